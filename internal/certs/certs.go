// Package certs simulates the PKI side of the identity lifecycle: every active
// user gets a short-lived self-signed certificate, and the monitor reports how
// long each has left. Real deployments replace issuance with their CA of
// choice; the expiry report format is the stable part.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/ajayirepos/EchelonID/internal/directory"
)

// DefaultValidity matches the demo certificate lifetime.
const DefaultValidity = 15 * 24 * time.Hour

// Status is one user's certificate expiry line.
type Status struct {
	User     string
	Expiry   time.Time
	DaysLeft int
}

// Monitor issues demo certificates and evaluates their remaining lifetime.
type Monitor struct {
	validity time.Duration
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithValidity overrides the issued certificate lifetime.
func WithValidity(d time.Duration) Option {
	return func(m *Monitor) { m.validity = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor with the default validity window.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{validity: DefaultValidity, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue creates a self-signed certificate for one subject.
func (m *Monitor) Issue(commonName string) (*x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key for %s: %w", commonName, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial for %s: %w", commonName, err)
	}

	notBefore := m.now().UTC()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(m.validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate for %s: %w", commonName, err)
	}
	return x509.ParseCertificate(der)
}

// Evaluate returns the expiry status of a certificate against the monitor's
// clock. DaysLeft is negative once the certificate has expired.
func (m *Monitor) Evaluate(cert *x509.Certificate) Status {
	remaining := cert.NotAfter.Sub(m.now().UTC())
	return Status{
		User:     cert.Subject.CommonName,
		Expiry:   cert.NotAfter,
		DaysLeft: int(remaining.Hours() / 24),
	}
}

// IssueForDirectory issues one certificate per active user, in directory
// order, and returns the expiry statuses. Terminated users get no certificate;
// their access is already gone.
func (m *Monitor) IssueForDirectory(dir *directory.Directory) ([]Status, error) {
	statuses := []Status{}
	for _, rec := range dir.Records() {
		if rec.Status != directory.StatusActive {
			continue
		}
		cert, err := m.Issue(rec.FullName)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, m.Evaluate(cert))
	}
	return statuses, nil
}
