package otelsetup

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

type Options struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	Stdout      bool
	CACert      string
	ClientCert  string
	ClientKey   string
}

func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Endpoint, "otel-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC endpoint for trace export")
	fs.BoolVar(&o.Insecure, "otel-insecure", false, "Disable TLS for the OTLP exporter")
	fs.BoolVar(&o.Stdout, "otel-stdout", false, "Export traces to stdout")
	fs.StringVar(&o.CACert, "otel-ca-cert", "", "Path to a CA certificate for the OTLP endpoint")
	fs.StringVar(&o.ClientCert, "otel-client-cert", "", "Path to a client certificate for the OTLP endpoint")
	fs.StringVar(&o.ClientKey, "otel-client-key", "", "Path to a client key for the OTLP endpoint")
}

func (o *Options) getTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if o.CACert != "" {
		pem, err := os.ReadFile(o.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", o.CACert)
		}

		tlsConfig.RootCAs = pool
	}

	if o.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(o.ClientCert, o.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
