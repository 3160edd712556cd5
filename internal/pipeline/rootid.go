// Package pipeline wires the stage chain: root ids, stage handlers,
// chaining between stages, job submission and the reconciler sweep.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

const rootIDLength = 24

// RootID derives the job id from the normalized source reference so that
// submitting the same source twice lands on the same job.
func RootID(sourceRef string) string {
	sum := sha256.Sum256([]byte(NormalizeSourceRef(sourceRef)))
	return hex.EncodeToString(sum[:])[:rootIDLength]
}

// NormalizeSourceRef canonicalizes URLs (case of scheme and host, www.
// prefix, default ports, fragment, query order, trailing slash) and cleans
// plain paths and object keys.
func NormalizeSourceRef(ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if ref == "" {
			return ""
		}
		return path.Clean(strings.ReplaceAll(ref, "\\", "/"))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}
	u.RawPath = ""
	return u.String()
}
