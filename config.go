// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Provisioning folder file names
const (
	CAFileName     = "ca.crt"
	CertFileName   = "client.crt"
	KeyFileName    = "client.key"
	ConfigFileName = "config.json"
)

// DefaultPort is the collector port outside the dev, qa and staging
// environments
const DefaultPort = 443

// environmentPorts maps the first host label of an endpoint to its
// collector port
var environmentPorts = map[string]int{
	"dev":     52005,
	"qa":      53005,
	"staging": 54005,
	"prod":    DefaultPort,
}

// Config is the content of a provisioning folder
type Config struct {
	// NetworkUUID is the network the client certificate was issued for
	NetworkUUID string
	// NetworkName is the name used when the network is first created
	NetworkName string
	// Endpoint is the Wappsto host, e.g. "wappsto.com" or "qa.wappsto.com"
	Endpoint string
	// Address is the collector host name derived from Endpoint
	Address string
	// Port is the collector port
	Port int

	CAFile   string
	CertFile string
	KeyFile  string
}

// LoadConfig reads a provisioning folder
//
// The folder must hold ca.crt, client.crt and client.key. config.json is
// optional; the network uuid and endpoint it lacks are taken from the client
// certificate (subject and issuer common names). Errors name only the
// file, never the full path.
//
// Example:
//
//	cfg, err := wappsto.LoadConfig("./config")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.NetworkUUID, cfg.HostPort())
func LoadConfig(folder string) (*Config, error) {
	cfg := &Config{
		CAFile:   filepath.Join(folder, CAFileName),
		CertFile: filepath.Join(folder, CertFileName),
		KeyFile:  filepath.Join(folder, KeyFileName),
	}
	for _, file := range []string{cfg.CAFile, cfg.CertFile, cfg.KeyFile} {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("'%s' was not found in the config folder", filepath.Base(file))
		}
	}

	port := 0
	data, err := os.ReadFile(filepath.Join(folder, ConfigFileName))
	switch {
	case err == nil:
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("%s is not valid JSON", ConfigFileName)
		}
		configs := gjson.GetBytes(data, "configs")
		cfg.NetworkUUID = configs.Get("network_uuid").String()
		cfg.NetworkName = configs.Get("network_name").String()
		cfg.Endpoint = configs.Get("end_point").String()
		port = int(configs.Get("port").Int())
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", ConfigFileName, errors.Unwrap(err))
	}

	if cfg.NetworkUUID == "" || cfg.Endpoint == "" {
		cert, err := readCertificate(cfg.CertFile)
		if err != nil {
			return nil, err
		}
		if cfg.NetworkUUID == "" {
			cfg.NetworkUUID = cert.Subject.CommonName
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = cert.Issuer.CommonName
		}
	}

	if _, err := uuid.Parse(cfg.NetworkUUID); err != nil {
		return nil, fmt.Errorf("network uuid %q is not a uuid", cfg.NetworkUUID)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint in %s or %s", ConfigFileName, CertFileName)
	}

	cfg.Address, cfg.Port = ResolveAddress(cfg.Endpoint)
	if port > 0 {
		cfg.Port = port
	}
	return cfg, nil
}

// ResolveAddress returns the collector host and port of an endpoint
//
// A scheme is stripped. Endpoints whose first label names an environment
// (dev, qa, staging, prod) are used as they are; any other endpoint gets
// "collector." prefixed.
//
//	ResolveAddress("wappsto.com")            // "collector.wappsto.com", 443
//	ResolveAddress("https://qa.wappsto.com") // "qa.wappsto.com", 53005
func ResolveAddress(endpoint string) (string, int) {
	host := endpoint
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	host = strings.TrimSuffix(host, "/")

	label, _, _ := strings.Cut(host, ".")
	if port, ok := environmentPorts[label]; ok {
		return host, port
	}
	return "collector." + host, DefaultPort
}

// HostPort returns the dial address of the collector
func (c *Config) HostPort() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// TLSConfig builds the mutual-TLS configuration from the folder
// certificates
func (c *Config) TLSConfig() (*tls.Config, error) {
	return LoadTLSConfig(c.CAFile, c.CertFile, c.KeyFile, "")
}

// readCertificate parses the first certificate of a PEM file
func readCertificate(file string) (*x509.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(file), errors.Unwrap(err))
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s contains no PEM certificate", filepath.Base(file))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(file), err)
	}
	return cert, nil
}
