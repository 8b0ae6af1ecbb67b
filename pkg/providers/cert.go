package providers

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/transports"
)

// SignalInvalid is observed when the certificate file cannot be parsed.
const SignalInvalid = "invalid"

// CertHandler manages a self-signed certificate and key generated with
// openssl. It is compared by subject CN; an expired certificate never
// matches.
type CertHandler struct {
	runner transports.Runner
	now    func() time.Time
}

// NewCertHandler creates a certificate handler. now is used for expiry checks.
func NewCertHandler(runner transports.Runner, now func() time.Time) *CertHandler {
	return &CertHandler{runner: runner, now: now}
}

// Kind returns engine.KindCert.
func (h *CertHandler) Kind() engine.Kind { return engine.KindCert }

// Validate requires paths, a CN and a positive validity.
func (h *CertHandler) Validate(res engine.Resource) error {
	if err := requireAttrs(res, stack.AttrCertPath, stack.AttrKeyPath, stack.AttrCommonName, stack.AttrDays); err != nil {
		return err
	}
	if days, err := strconv.Atoi(res.Attr(stack.AttrDays)); err != nil || days <= 0 {
		return engine.NewValidationError("certificate validity must be a positive number of days", err).
			WithResource(res.ID())
	}
	return nil
}

// Probe parses the certificate on the host. A missing certificate or key is
// absent. The key is only stat'ed: issued under sudo it is root-owned with
// mode 0600 and unreadable to a remote ssh user.
func (h *CertHandler) Probe(ctx context.Context, res engine.Resource) (engine.Observed, error) {
	certPEM, err := h.runner.ReadFile(ctx, res.Attr(stack.AttrCertPath))
	if errors.Is(err, fs.ErrNotExist) {
		return engine.Absent(res.ID()), nil
	}
	if err != nil {
		return engine.Observed{}, probeError(res, "failed to read certificate", err)
	}
	if _, err := h.runner.Stat(ctx, res.Attr(stack.AttrKeyPath)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.Absent(res.ID()), nil
		}
		return engine.Observed{}, probeError(res, "failed to read private key", err)
	}

	observed := engine.Observed{ResourceID: res.ID(), Present: true, Signal: SignalInvalid}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return observed, nil
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return observed, nil
	}

	observed.Attributes = map[string]string{"not_after": cert.NotAfter.UTC().Format(time.RFC3339)}
	if h.now().After(cert.NotAfter) {
		observed.Signal = stack.SignalExpired
		return observed, nil
	}
	observed.Signal = stack.SignalCNPrefix + cert.Subject.CommonName
	return observed, nil
}

// Apply generates a new key pair into temporary files and renames both into
// place, key first, so a half-finished run never leaves a certificate
// without its key.
func (h *CertHandler) Apply(ctx context.Context, op *engine.Operation) (bool, error) {
	res := op.Resource
	certPath, keyPath := res.Attr(stack.AttrCertPath), res.Attr(stack.AttrKeyPath)
	cn := res.Attr(stack.AttrCommonName)

	if err := h.runner.MkdirAll(ctx, path.Dir(certPath), 0o755); err != nil {
		return false, applyError(op, "failed to create certificate directory", err)
	}

	tmpCert, tmpKey := certPath+".provisio-tmp", keyPath+".provisio-tmp"
	args := []string{
		"req", "-x509", "-nodes",
		"-newkey", "rsa:2048",
		"-days", res.Attr(stack.AttrDays),
		"-subj", "/CN=" + cn,
		"-keyout", tmpKey,
		"-out", tmpCert,
	}
	if san := subjectAltName(cn); san != "" {
		args = append(args, "-addext", "subjectAltName="+san)
	}

	if _, err := h.runner.Run(ctx, transports.Command{Name: "openssl", Args: args}); err != nil {
		_ = h.runner.Remove(ctx, tmpCert)
		_ = h.runner.Remove(ctx, tmpKey)
		return false, applyError(op, "openssl failed", err)
	}

	if err := h.runner.Rename(ctx, tmpKey, keyPath); err != nil {
		return false, applyError(op, "failed to install private key", err)
	}
	if err := h.runner.Rename(ctx, tmpCert, certPath); err != nil {
		return false, applyError(op, "failed to install certificate", err)
	}
	return true, nil
}

func subjectAltName(cn string) string {
	if ip := net.ParseIP(cn); ip != nil {
		return "IP:" + ip.String()
	}
	if cn != "" {
		return fmt.Sprintf("DNS:%s", cn)
	}
	return ""
}
