package dataset

import (
	"fmt"
	"strings"
)

// irisCSV builds a 150-row, 5-column table shaped like the iris dataset.
func irisCSV() string {
	var b strings.Builder
	b.WriteString("sepal_length,sepal_width,petal_length,petal_width,species\n")
	species := []string{"setosa", "versicolor", "virginica"}
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&b, "%.1f,%.1f,%.1f,%.1f,%s\n",
			4.3+float64(i%36)/10, 2.0+float64(i%24)/10, 1.0+float64(i%59)/10, 0.1+float64(i%25)/10,
			species[i/50])
	}
	return b.String()
}
