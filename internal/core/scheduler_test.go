package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme-distributed/internal/config"
	"acme-distributed/internal/logging"
)

func TestRenewableWithoutPEM(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator(newFakeClock(), logging.Discard())

	for _, days := range []int{0, 5, 30, 1000} {
		cert := config.Certificate{Name: "example", Subject: "example.com", Path: filepath.Join(dir, "missing.pem"), RenewDays: days}
		assert.True(t, v.Renewable(cert), "renew_days=%d", days)
	}
}

func TestRenewableByRemainingDays(t *testing.T) {
	clock := newFakeClock()
	tests := []struct {
		name      string
		remaining time.Duration
		renewDays int
		want      bool
	}{
		{name: "within threshold", remaining: 10*day + time.Hour, renewDays: 30, want: true},
		{name: "above threshold", remaining: 10*day + time.Hour, renewDays: 5, want: false},
		{name: "equal to threshold", remaining: 10*day + time.Hour, renewDays: 10, want: true},
		{name: "zero threshold before expiry", remaining: day + time.Hour, renewDays: 0, want: false},
		{name: "zero threshold on last day", remaining: 12 * time.Hour, renewDays: 0, want: true},
		{name: "expired", remaining: -3 * day, renewDays: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := config.Certificate{Name: "example", Subject: "example.com", Path: filepath.Join(t.TempDir(), "example.pem"), RenewDays: tt.renewDays}
			writePEM(t, cert, clock.now.Add(tt.remaining))

			v := NewValidator(clock, logging.Discard())
			assert.Equal(t, tt.want, v.Renewable(cert))
		})
	}
}

func TestRemainingLifetimeCache(t *testing.T) {
	clock := newFakeClock()
	cert := config.Certificate{Name: "example", Subject: "example.com", Path: filepath.Join(t.TempDir(), "example.pem")}
	writePEM(t, cert, clock.now.Add(10*day+time.Hour))

	v := NewValidator(clock, logging.Discard())
	lt := v.RemainingLifetime(cert, false)
	assert.True(t, lt.Exists)
	assert.Equal(t, 10, lt.Days)

	writePEM(t, cert, clock.now.Add(50*day+time.Hour))
	assert.Equal(t, 10, v.RemainingLifetime(cert, false).Days)
	assert.Equal(t, 50, v.RemainingLifetime(cert, true).Days)
}

func TestRemainingLifetimeCorruptPEM(t *testing.T) {
	cert := config.Certificate{Name: "example", Subject: "example.com", Path: filepath.Join(t.TempDir(), "example.pem"), RenewDays: 0}
	require.NoError(t, os.WriteFile(cert.Path, []byte("not a certificate"), 0o644))

	v := NewValidator(newFakeClock(), logging.Discard())
	assert.False(t, v.RemainingLifetime(cert, false).Exists)
	assert.True(t, v.Renewable(cert))
}

func TestSchedulerSelect(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	fresh := testCertificate(t, dir, "fresh")
	writePEM(t, fresh, clock.now.Add(80*day))
	expiring := testCertificate(t, dir, "expiring")
	writePEM(t, expiring, clock.now.Add(3*day))
	missing := testCertificate(t, dir, "missing")
	nokey := testCertificate(t, dir, "nokey")
	require.NoError(t, os.Remove(nokey.Key))

	certs := []config.Certificate{missing, fresh, nokey, expiring}
	s := NewScheduler(NewValidator(clock, logging.Discard()), false, logging.Discard())

	selected, err := s.Select(certs, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"missing", "expiring"}, names(selected))

	selected, err = s.Select(certs, []string{"expiring", "fresh", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, []string{"expiring"}, names(selected))
}

func TestSchedulerGeneratesKeys(t *testing.T) {
	dir := t.TempDir()
	cert := config.Certificate{
		Name:    "example",
		Subject: "example.com",
		Key:     filepath.Join(dir, "example.key"),
		Path:    filepath.Join(dir, "example.pem"),
		KeyType: "ec256",
	}

	s := NewScheduler(NewValidator(newFakeClock(), logging.Discard()), true, logging.Discard())
	selected, err := s.Select([]config.Certificate{cert}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"example"}, names(selected))

	info, err := os.Stat(cert.Key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSchedulerKeyGenerationFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	cert := config.Certificate{
		Name:    "example",
		Subject: "example.com",
		Key:     filepath.Join(dir, "missing-dir", "example.key"),
		Path:    filepath.Join(dir, "example.pem"),
	}

	s := NewScheduler(NewValidator(newFakeClock(), logging.Discard()), true, logging.Discard())
	_, err := s.Select([]config.Certificate{cert}, nil)
	require.Error(t, err)
}

func names(certs []config.Certificate) []string {
	out := make([]string, 0, len(certs))
	for _, c := range certs {
		out = append(out, c.Name)
	}
	return out
}
