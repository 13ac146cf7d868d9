// Package dockersetup builds the docker API client used for container
// action steps from CLI options.
package dockersetup

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/sockets"
	"github.com/docker/go-connections/tlsconfig"
	"github.com/spf13/pflag"
)

const (
	defaultCaFile   = "ca.pem"
	defaultKeyFile  = "key.pem"
	defaultCertFile = "cert.pem"

	flagTLSVerify = "docker-tlsverify"
)

type Options struct {
	Host       string
	TLS        bool
	TLSVerify  bool
	TLSOptions *tlsconfig.Options
}

func (o *Options) BindFlags(fs *pflag.FlagSet) {
	host := os.Getenv(client.EnvOverrideHost)
	if host == "" {
		host = client.DefaultDockerHost
	}

	certPath := os.Getenv(client.EnvOverrideCertPath)

	fs.StringVar(&o.Host, "docker-host", host, "Daemon socket to connect to")
	fs.BoolVar(&o.TLS, "docker-tls", false, "Use TLS; implied by --docker-tlsverify")
	fs.BoolVar(&o.TLSVerify, flagTLSVerify, os.Getenv(client.EnvTLSVerify) != "", "Use TLS and verify the remote")

	o.TLSOptions = &tlsconfig.Options{
		CAFile:   filepath.Join(certPath, defaultCaFile),
		CertFile: filepath.Join(certPath, defaultCertFile),
		KeyFile:  filepath.Join(certPath, defaultKeyFile),
	}
	fs.StringVar(&o.TLSOptions.CAFile, "docker-tlscacert", o.TLSOptions.CAFile, "Trust certs signed only by this CA")
	fs.StringVar(&o.TLSOptions.CertFile, "docker-tlscert", o.TLSOptions.CertFile, "Path to TLS certificate file")
	fs.StringVar(&o.TLSOptions.KeyFile, "docker-tlskey", o.TLSOptions.KeyFile, "Path to TLS key file")
}

// SetDefaultOptions finalizes the TLS settings once flags are parsed.
// Passing --docker-tlsverify in any form implies TLS.
func (o *Options) SetDefaultOptions(fs *pflag.FlagSet) {
	if fs.Changed(flagTLSVerify) || o.TLSVerify {
		o.TLS = true
	}

	if !o.TLS {
		o.TLSOptions = nil
		return
	}

	o.TLSOptions.InsecureSkipVerify = !o.TLSVerify

	if !fs.Changed("docker-tlscert") {
		if _, err := os.Stat(o.TLSOptions.CertFile); os.IsNotExist(err) {
			o.TLSOptions.CertFile = ""
		}
	}
	if !fs.Changed("docker-tlskey") {
		if _, err := os.Stat(o.TLSOptions.KeyFile); os.IsNotExist(err) {
			o.TLSOptions.KeyFile = ""
		}
	}
}

func (o *Options) Build() (*client.Client, error) {
	hostURL, err := client.ParseHostURL(o.Host)
	if err != nil {
		return nil, err
	}

	httpClient, err := o.httpClient(hostURL)
	if err != nil {
		return nil, err
	}

	opts := []client.Opt{
		client.WithHost(o.Host),
		client.WithHTTPClient(httpClient),
		client.WithUserAgent("outpost"),
		client.WithAPIVersionNegotiation(),
	}

	if o.TLS && o.TLSOptions != nil {
		opts = append(opts, client.WithTLSClientConfig(o.TLSOptions.CAFile, o.TLSOptions.CertFile, o.TLSOptions.KeyFile))
	}

	return client.NewClientWithOpts(opts...)
}

func (o *Options) httpClient(hostURL *url.URL) (*http.Client, error) {
	transport := &http.Transport{}

	if err := sockets.ConfigureTransport(transport, hostURL.Scheme, hostURL.Host); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport:     transport,
		CheckRedirect: client.CheckRedirect,
	}, nil
}
