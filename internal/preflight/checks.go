package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"chronicler/internal/anonymize"
	"chronicler/internal/config"
	"chronicler/internal/privacy"
	"chronicler/internal/services"
	"chronicler/internal/services/llm"
)

const providerCheckTimeout = 30 * time.Second

// Generator is the provider surface the probe needs.
type Generator interface {
	Generate(ctx context.Context, payload privacy.Payload) (string, error)
}

// CheckProvider verifies that the provider is reachable and the key is valid
// with a single request and no retries.
func CheckProvider(ctx context.Context, cfg config.Provider) Result {
	if cfg.APIKey == "" {
		return Result{Name: "Provider", Detail: "API key missing"}
	}
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Referer:        cfg.Referer,
		Title:          cfg.Title,
		TimeoutSeconds: cfg.TimeoutSeconds,
	})
	return ProbeGenerator(ctx, "Provider", client)
}

// ProbeGenerator sends a fixed prompt that carries no transcript data.
func ProbeGenerator(ctx context.Context, name string, gen Generator) Result {
	checkCtx, cancel := context.WithTimeout(ctx, providerCheckTimeout)
	defer cancel()

	gate := privacy.NewGate(anonymize.NewBuilder("", nil).Build())
	payload, err := gate.Seal("Reply with the single word OK.", "ping")
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if _, err := gen.Generate(checkCtx, payload); err != nil {
		return Result{Name: name, Detail: summarizeProviderError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeProviderError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (provider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (provider unreachable)"
	}
	if errors.Is(err, services.ErrFatalAuth) {
		return "authentication failed (check provider.api_key)"
	}
	return err.Error()
}
