package template

import (
	"path/filepath"
	"sort"
	"strings"
)

// Sensors are the sensor abbreviations recognized in project names.
var Sensors = []string{
	"Alos", "Alos2", "Csk", "Env", "Ers", "Gf3", "Jers", "Ksat5",
	"Lt1", "Ni", "Rcm", "Rs1", "Rs2", "Sen", "Tsx", "Uav",
}

// sensorsByLength lists Sensors longest first so that "Alos2" wins over
// "Alos".
var sensorsByLength = func() []string {
	s := append([]string(nil), Sensors...)
	sort.SliceStable(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// ProjectSensor returns the sensor and project name encoded in a template
// path such as "/data/AtacamaSenAT120.txt". The project is the file name
// without extension. The sensor is empty when the name carries none.
func ProjectSensor(path string) (sensor, project string) {
	base := filepath.Base(path)
	project = strings.TrimSuffix(base, filepath.Ext(base))

	best := -1
	for _, s := range sensorsByLength {
		i := strings.Index(project, s)
		if i < 0 {
			continue
		}
		// Longer names come first; an equally long match only wins when
		// it appears earlier.
		if sensor == "" || (len(s) == len(sensor) && i < best) {
			sensor, best = s, i
		}
	}
	return sensor, project
}
