package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the application is running inside a Docker container.
// Detection is based on the presence of /.dockerenv file which exists in all Docker containers.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps a loopback host to host.docker.internal when the
// bridge runs in a container, so a Kibana or Grafana published on the Docker
// host stays reachable. Any other host, or any host outside Docker, is kept.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return dockerHost(host)
}

// ResolveURLForDocker applies ResolveHostForDocker to the host of a URL,
// keeping the port. Only URLs this process dials should go through it; the
// Elasticsearch URL is dialled by Grafana and must stay as configured.
func ResolveURLForDocker(rawURL string) string {
	return rewriteURLHost(rawURL, ResolveHostForDocker)
}

func dockerHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}

// rewriteURLHost maps the hostname of rawURL through fn. Unparseable URLs
// are returned unchanged.
func rewriteURLHost(rawURL string, fn func(string) string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	host := u.Hostname()
	mapped := fn(host)
	if mapped == host {
		return rawURL
	}

	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(mapped, port)
	} else {
		u.Host = mapped
	}
	return u.String()
}
