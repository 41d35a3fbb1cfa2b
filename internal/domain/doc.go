// Package domain models tropical cyclone best-track observations, the storm
// entities they resolve to, and ensemble forecast tracks.
//
// # Data Source
//
// Observations originate from ATCF best-track ("b-deck") and forecast-track
// ("a-deck") bulletins published by NHC and JTWC. The upstream parser splits
// the fixed-column records, converts compass-suffixed coordinates ("145N",
// "453W") to signed decimal degrees, and publishes one JSON batch per
// disturbance to the Kafka source topic.
//
// # ATCF Conventions
//
// Basins:
//
//	AL  North Atlantic          (NHC)
//	EP  Eastern North Pacific   (NHC)
//	CP  Central North Pacific   (NHC/CPHC)
//	WP  Western North Pacific   (JTWC)
//	IO  North Indian Ocean      (JTWC, subregions A = Arabian Sea, B = Bay of Bengal)
//	SH  Southern Hemisphere     (JTWC, subregions S = South Indian, P = South Pacific)
//
// Designator numbers:
//
//	01-69  storms with an official number (depressions and named storms)
//	70-89  reserved for training and test systems, rejected on input
//	90-99  invests, recycled within a season
//
// Identity keys:
//
//	"<basin><number:02><season:04>", e.g. "AL052021". Invests carry the same
//	format as a provisional key only; they have no identity key until the
//	disturbance is numbered.
//
// Display names:
//
//	Invests are "<center>-<number><subregion>" ("NHC-91L", "JTWC-93W").
//	Numbered storms are "<type>-<Name>" where type is derived from the peak
//	wind and the basin's classification scale ("HU-Ida", "STY-Haiyan").
//
// Distances are great-circle nautical miles on the s2 unit sphere, where one
// minute of arc is one nautical mile. Intensities are knots and pressures
// hectopascals.
package domain
