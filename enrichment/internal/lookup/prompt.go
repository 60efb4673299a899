package lookup

import (
	"strings"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// BuildPrompt renders the request sent to text-completion backends.
func BuildPrompt(identity domain.Identity, names []string) string {
	var b strings.Builder
	b.WriteString("Find the technical attributes of this product.\n\n")
	writeField(&b, "Manufacturer", identity.Manufacturer)
	writeField(&b, "Part number", identity.PartNumber)
	writeField(&b, "Description", identity.Description)
	b.WriteString("\nAttributes:\n")
	for _, n := range names {
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteByte('\n')
	}
	b.WriteString("\nRespond with a single JSON object whose keys are exactly the attribute names above ")
	b.WriteString("and whose values are strings. Use \"N/A\" when a value cannot be determined.")
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(value))
	b.WriteByte('\n')
}
