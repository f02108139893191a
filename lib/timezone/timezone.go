package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
}

// force the timezone to the US east coast because the treasury and
// the BLS publish against it, so a server running elsewhere would
// roll periods over at the wrong moment when manipulating dates
// based on <time.Time>.Year()/Month()/Day()/Hour()/...
func Now() time.Time {
	return time.Now().In(Location)
}
