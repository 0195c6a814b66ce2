package app

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/linechat-server/internal/config"
	"github.com/vovakirdan/linechat-server/internal/log"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = freeAddr(t)
	cfg.AdminHTTP.Addr = freeAddr(t)
	cfg.Database.DSN = filepath.Join(t.TempDir(), "chat.db")
	cfg.ShutdownTimeout = time.Second
	cfg.AdminPassword = "rootpw1"
	return cfg
}

func TestNew_Rejections(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err := New(ctx, &cfg, log.Nop())
	assert.ErrorContains(t, err, "unsupported database driver")

	cfg = testConfig(t)
	cfg.TimeZone = "Mars/Olympus"
	_, err = New(ctx, &cfg, log.Nop())
	assert.ErrorContains(t, err, "time zone")

	cfg = testConfig(t)
	cfg.TLS = config.TLSConfig{CertFile: "missing.crt", KeyFile: "missing.key"}
	_, err = New(ctx, &cfg, log.Nop())
	assert.ErrorContains(t, err, "tls")

	cfg = testConfig(t)
	cfg.AdminPassword = "x"
	_, err = New(ctx, &cfg, log.Nop())
	assert.ErrorContains(t, err, "bootstrap admin account")
}

func TestNew_BootstrapsAdmin(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), &cfg, log.Nop())
	require.NoError(t, err)
	defer a.cleanup()

	ok, err := a.store.UserExists(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), &cfg, log.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", cfg.Addr)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	_, err = io.WriteString(conn, "REGISTER:alice:secret1\n")
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK: Usuario registrado correctamente\n", line)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.AdminHTTP.Addr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == "ok"
	}, 2*time.Second, 20*time.Millisecond)

	// A logged-in client is disconnected by shutdown.
	live, err := net.Dial("tcp", cfg.Addr)
	require.NoError(t, err)
	defer live.Close()
	_, err = io.WriteString(live, "LOGIN:alice:secret1\n")
	require.NoError(t, err)
	r := bufio.NewReader(live)
	_ = live.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "HISTORIAL:") {
			break
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

func TestRun_ListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminHTTP.Addr = ""

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	cfg.Addr = busy.Addr().String()

	a, err := New(context.Background(), &cfg, log.Nop())
	require.NoError(t, err)

	err = a.Run(context.Background())
	assert.ErrorContains(t, err, "listen")
}

// selfSignedPair writes a loopback certificate and key and returns a pool trusting it.
func selfSignedPair(t *testing.T) (string, string, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "linechat app test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return certFile, keyFile, pool
}

func TestRun_ServesPlainAndTLS(t *testing.T) {
	certFile, keyFile, pool := selfSignedPair(t)
	cfg := testConfig(t)
	cfg.AdminHTTP.Addr = ""
	cfg.TLS = config.TLSConfig{Addr: freeAddr(t), CertFile: certFile, KeyFile: keyFile}

	a, err := New(context.Background(), &cfg, log.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var conn *tls.Conn
	require.Eventually(t, func() bool {
		conn, err = tls.Dial("tcp", cfg.TLS.Addr, &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"})
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	_, err = io.WriteString(conn, "REGISTER:alice:secret1\n")
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK: Usuario registrado correctamente\n", line)

	// The plain listener keeps working next to the TLS one.
	require.Eventually(t, func() bool {
		plain, err := net.Dial("tcp", cfg.Addr)
		if err != nil {
			return false
		}
		_ = plain.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}
