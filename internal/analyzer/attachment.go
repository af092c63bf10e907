package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

func init() {
	Register(&AttachmentCheckAnalyzer{})
}

// AttachmentCheckAnalyzer flags dangerous extensions, double-extension
// traps, small executables and encrypted/password-protected content types,
// and hashes decoded attachment bytes. Grounded on attachment_analyzer.py;
// the exact extension sets follow spec.md §4.1's wording as the
// authoritative contract.
type AttachmentCheckAnalyzer struct{}

func (AttachmentCheckAnalyzer) Name() string { return "attachment_check" }
func (AttachmentCheckAnalyzer) Order() int   { return 30 }

var dangerousExtensions = map[string]bool{
	".exe": true, ".scr": true, ".pif": true, ".com": true, ".bat": true,
	".cmd": true, ".msi": true, ".msp": true, ".js": true, ".jse": true,
	".vbs": true, ".vbe": true, ".wsf": true, ".wsh": true, ".ps1": true,
	".psm1": true, ".docm": true, ".xlsm": true, ".pptm": true, ".dotm": true,
	".iso": true, ".img": true, ".vhd": true, ".vhdx": true, ".dll": true,
	".sys": true, ".drv": true, ".cpl": true, ".inf": true, ".reg": true,
	".lnk": true, ".hta": true,
}

var doubleExtensionTrap = map[string]bool{
	".exe": true, ".scr": true, ".bat": true, ".cmd": true, ".js": true,
	".vbs": true, ".ps1": true,
}

const smallExecutableThreshold = 50000

func (AttachmentCheckAnalyzer) Analyze(ctx context.Context, event domain.EmailEvent) ([]domain.Observation, error) {
	var dangerousCount, doubleExtCount, encryptedCount, smallExecCount int
	hashes := make([]string, 0, len(event.Attachments))

	for _, att := range event.Attachments {
		name := strings.ToLower(att.Name)
		ext := rightmostExt(name)

		if dangerousExtensions[ext] {
			dangerousCount++
		}

		if strings.Count(name, ".") >= 2 && doubleExtensionTrap[ext] {
			doubleExtCount++
		}

		ct := strings.ToLower(att.ContentType)
		if strings.Contains(ct, "encrypted") || strings.Contains(ct, "password") {
			encryptedCount++
		}

		if ext == ".exe" || ext == ".scr" || ext == ".dll" {
			if att.Size > 0 && att.Size < smallExecutableThreshold {
				smallExecCount++
			}
		}

		if att.ContentBase64 != "" {
			if decoded, err := base64.StdEncoding.DecodeString(att.ContentBase64); err == nil {
				sum := sha256.Sum256(decoded)
				hashes = append(hashes, hex.EncodeToString(sum[:]))
			}
		}
	}

	obs := []domain.Observation{
		domain.Numeric("attachment_count", float64(len(event.Attachments))),
		domain.Numeric("dangerous_extension_count", float64(dangerousCount)),
		domain.Numeric("double_extension_trap_count", float64(doubleExtCount)),
		domain.Numeric("encrypted_attachment_count", float64(encryptedCount)),
		domain.Numeric("small_executable_count", float64(smallExecCount)),
	}
	if len(hashes) > 0 {
		obs = append(obs, domain.Text("attachment_sha256", strings.Join(hashes, ",")))
	}
	return obs, nil
}

func rightmostExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}
