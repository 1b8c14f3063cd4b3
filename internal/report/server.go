// server.go implements the HTML report page: a single route rendering
// whichever report artifacts exist in the output directory as tables. The
// page is read-only and rebuilt from the CSVs on every request, so it always
// reflects the latest run without the server needing to know when runs happen.
package report

import (
	"encoding/csv"
	"html/template"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// pageSection is one report table on the page.
type pageSection struct {
	Title  string
	Header []string
	Rows   [][]string
}

// sectionOrder fixes the page layout; artifacts missing on disk are simply
// not rendered.
var sectionOrder = []struct {
	artifact string
	title    string
}{
	{AccessReviewArtifact, "Access Review Report"},
	{AlignmentArtifact, "Policy Alignment Report"},
	{DeprovisionArtifact, "Deprovisioned Users Report"},
	{CertExpiryArtifact, "PKI Expiry Report"},
}

var pageTemplate = template.Must(template.New("reports").Parse(`<!doctype html>
<html>
<head><title>EchelonID Reports</title></head>
<body>
<h1>EchelonID &ndash; IGA Reports</h1>
<p>Generated from the most recent lifecycle, policy, and PKI runs.</p>
{{range .Sections}}
<h2>{{.Title}}</h2>
<table border="1">
<tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>
{{else}}
<p>No reports have been produced yet.</p>
{{end}}
</body>
</html>
`))

// NewServer builds the gin engine serving the report page over the artifacts
// in outputDir.
func NewServer(outputDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetHTMLTemplate(pageTemplate)

	w := &Writer{dir: outputDir}
	r.GET("/", func(c *gin.Context) {
		sections := []pageSection{}
		for _, s := range sectionOrder {
			section, ok := readSection(w.Path(s.artifact), s.title)
			if ok {
				sections = append(sections, section)
			}
		}
		c.HTML(http.StatusOK, "reports", gin.H{"Sections": sections})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// readSection loads one report CSV into a page section. Unreadable or empty
// files are skipped rather than failing the page; the report page is a
// convenience view, the CSVs stay authoritative.
func readSection(path, title string) (pageSection, bool) {
	f, err := os.Open(path)
	if err != nil {
		return pageSection{}, false
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil || len(rows) == 0 {
		return pageSection{}, false
	}
	return pageSection{Title: title, Header: rows[0], Rows: rows[1:]}, true
}
