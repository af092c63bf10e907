package analyzer

import "github.com/BlackChamberSecurity/BlackChamber-ICES/internal/analyzer/bec"

func init() {
	Register(&bec.Analyzer{})
}
