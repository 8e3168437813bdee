package verification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

const verificationFileName = "hol-verify.txt"

// FileUploadVerifier proves ownership by fetching
// <website>/hol-verify.txt and comparing its body to the token.
type FileUploadVerifier struct {
	client  *http.Client
	timeout time.Duration
}

// NewFileUploadVerifier builds the strategy; a nil client gets a default
// that follows redirects.
func NewFileUploadVerifier(client *http.Client, timeout time.Duration) *FileUploadVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &FileUploadVerifier{client: client, timeout: timeout}
}

func (v *FileUploadVerifier) Method() models.VerificationMethod { return models.MethodFileUpload }

// Available only when the server has an http(s) website configured.
func (v *FileUploadVerifier) Available(server *models.Server) bool {
	url := strings.TrimSpace(server.WebsiteURL)
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func (v *FileUploadVerifier) AvailableForUser(server *models.Server, user *models.User) bool {
	return v.Available(server)
}

func (v *FileUploadVerifier) UnavailableReason(server *models.Server, user *models.User) string {
	if !v.Available(server) {
		return RequirementHint(models.MethodFileUpload)
	}
	return ""
}

func (v *FileUploadVerifier) Instructions(server *models.Server, token string) string {
	baseURL := normalizeURL(server.WebsiteURL)

	return fmt.Sprintf(`To verify ownership using file upload verification:

1. Create a file named: %s

2. The file should contain ONLY this verification code:
   %s

3. Upload the file to the root of your website so it's accessible at:
   %s/%s

4. Click the "Verify" button below once the file is uploaded.

5. After successful verification, you can delete the file.

Note: The file must be publicly accessible (no login required).
`, verificationFileName, token, baseURL, verificationFileName)
}

// Verify fetches the file. 404 is "not found", any other non-200 is
// "inaccessible", and a 200 matches when the trimmed body equals the token
// or contains it with at most 10 extra characters of whitespace.
func (v *FileUploadVerifier) Verify(server *models.Server, token string) Result {
	url := normalizeURL(server.WebsiteURL) + "/" + verificationFileName

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Message: "Could not access your website. Please ensure it's accessible and try again."}
	}
	req.Header.Set("User-Agent", "HytaleOnlineList-Verifier/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("File verification fetch failed")
		return Result{Message: "Could not access your website. Please ensure it's accessible and try again."}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return Result{Message: fmt.Sprintf(
			"Verification file not found. Please ensure you uploaded '%s' to the root of your website.",
			verificationFileName)}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{Message: fmt.Sprintf("Could not access verification file. HTTP status: %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{Message: "Could not read the verification file. Please try again."}
	}
	content := strings.TrimSpace(string(body))

	if content == token {
		log.Info().Str("server", server.ID.String()).Msg("File upload verification successful")
		return Result{Success: true, Message: "Verification successful! Your website ownership has been confirmed."}
	}

	// Tolerate stray whitespace around the token, but not arbitrary content.
	if strings.Contains(content, token) && len(content) < len(token)+10 {
		log.Info().Str("server", server.ID.String()).Msg("File upload verification successful (with whitespace)")
		return Result{Success: true, Message: "Verification successful! Your website ownership has been confirmed."}
	}

	return Result{Message: "Verification file found but content doesn't match. " +
		"Please ensure the file contains only the verification code."}
}

func (v *FileUploadVerifier) VerifyWithUser(server *models.Server, token string, user *models.User) Result {
	return v.Verify(server, token)
}

func normalizeURL(url string) string {
	url = strings.TrimSpace(url)
	return strings.TrimRight(url, "/")
}
