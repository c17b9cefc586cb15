package choropleth

import (
	"fmt"
	"html"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
)

func popupHTML(f model.RegionFeature) string {
	var b strings.Builder
	b.WriteString(`<div class="region-popup">`)
	fmt.Fprintf(&b, "<h4>%s</h4>", html.EscapeString(f.Name))
	row(&b, "Vulnerability Score", fmt.Sprintf("%.2f", f.VulnerabilityScore))
	if f.ScoreEstimated {
		b.WriteString(`<p class="estimated">Score estimated, no data</p>`)
	}
	if f.Exposure != nil {
		row(&b, "Exposure", fmt.Sprintf("%.2f", *f.Exposure))
	}
	if f.Sensitivity != nil {
		row(&b, "Sensitivity", fmt.Sprintf("%.2f", *f.Sensitivity))
	}
	if f.AdaptiveCapacity != nil {
		row(&b, "Adaptive Capacity", fmt.Sprintf("%.2f", *f.AdaptiveCapacity))
	}
	if f.Population != nil {
		row(&b, "Population", humanize.Comma(*f.Population))
	}
	if f.Area != nil {
		row(&b, "Area", humanize.CommafWithDigits(*f.Area, 1)+" km²")
	}
	b.WriteString("</div>")
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "<p><strong>%s:</strong> %s</p>", label, value)
}
