// Package security provides certificate inspection used by the crawler's TLS
// fallback policy: a host is checked once with verification, and a narrowly
// scoped second attempt without verification is made only after recording why
// the first attempt failed.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error message constants for certificate checks
const (
	errExpiringShortly = "%s: ** '%s' (S/N %X) expires in %d hours! **"
	errExpiringSoon    = "%s: '%s' (S/N %X) expires in roughly %d days."
	errSunsetAlg       = "%s: '%s' (S/N %X) expires after the sunset date for its signature algorithm '%s'."

	// Verify that non-root certificates are using a good signature algorithm
	checkSigAlg = true
)

// hostResult contains the results of a host certificate check.
// Used to return information about a host's TLS certificates.
type hostResult struct {
	Host       string // The host that was checked
	Err        error  // Any error that occurred during checking
	CommonName string // The common name from the certificate
}

// InsecureFallbackClient is a second HTTP client that skips certificate
// verification. It is only ever reached after a request on the default,
// verifying client has already failed with a TLS error, and callers are
// expected to log that the fallback was used.
var InsecureFallbackClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
	Timeout: 30 * time.Second,
}

// IsCertificateError reports whether err originates from certificate
// verification, as opposed to a network-level failure the fallback client
// would hit too.
func IsCertificateError(err error) bool {
	if err == nil {
		return false
	}
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameError x509.HostnameError
	var invalidError x509.CertificateInvalidError
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameError) ||
		errors.As(err, &invalidError)
}

// sigAlgSunset contains information about signature algorithm sunsets.
// Used to track when cryptographic algorithms become deprecated.
type sigAlgSunset struct {
	name      string    // Human readable name of signature algorithm
	sunsetsAt time.Time // Time the algorithm will be sunset
}

// sunsetSigAlgs maps signature algorithms to their sunset information.
// Contains a list of deprecated or soon-to-be-deprecated signature algorithms.
//
//nolint:gofmt
var sunsetSigAlgs = map[x509.SignatureAlgorithm]sigAlgSunset{
	x509.MD2WithRSA: sigAlgSunset{
		name:      "MD2 with RSA",
		sunsetsAt: time.Now(), // Already deprecated
	},
	x509.MD5WithRSA: sigAlgSunset{
		name:      "MD5 with RSA",
		sunsetsAt: time.Now(), // Already deprecated
	},
	x509.SHA1WithRSA: sigAlgSunset{
		name:      "SHA1 with RSA",
		sunsetsAt: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	},
	x509.DSAWithSHA1: sigAlgSunset{
		name:      "DSA with SHA1",
		sunsetsAt: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	},
	x509.ECDSAWithSHA1: sigAlgSunset{
		name:      "ECDSA with SHA1",
		sunsetsAt: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	},
}

// CertsCheckHost checks the TLS certificates of a host for expiration and security issues.
// This function connects to the host, examines its certificate chain, and checks for:
//   - Certificates expiring within the warning period
//   - Use of deprecated signature algorithms
//
// Parameters:
//   - host: The host:port to check (e.g., "example.com:443")
//   - warnYears: Number of years before expiration to start warning
//   - warnMonths: Number of months before expiration to start warning
//   - warnDays: Number of days before expiration to start warning
//
// Returns:
//   - hostResult: A struct containing the host information, any errors found,
//     and the common name from the certificate
//
// The function:
//  1. Establishes a TLS connection to the host
//  2. Examines each certificate in the verified chains
//  3. Checks expiration dates against the warning thresholds
//  4. Validates signature algorithms against known deprecated algorithms
//  5. Returns any issues found
func CertsCheckHost(host string, warnYears, warnMonths, warnDays *int) (result hostResult) {
	result = hostResult{
		Host: host,
	}

	conn, err := tls.Dial("tcp", host, nil)
	if err != nil {
		result.Err = err
		return
	}
	defer conn.Close()

	timeNow := time.Now()
	checkedCerts := make(map[string]struct{})

	for _, chain := range conn.ConnectionState().VerifiedChains {
		for certNum, cert := range chain {
			// Skip certificates we've already checked
			if _, checked := checkedCerts[string(cert.Signature)]; checked {
				continue
			}
			checkedCerts[string(cert.Signature)] = struct{}{}

			// Check the expiration
			warningTime := timeNow.AddDate(*warnYears, *warnMonths, *warnDays)
			if warningTime.After(cert.NotAfter) {
				expiresIn := int64(cert.NotAfter.Sub(timeNow).Hours())
				if expiresIn <= 48 {
					// Certificate expires in less than 48 hours
					result.Err = fmt.Errorf(errExpiringShortly, host, cert.Subject.CommonName, cert.SerialNumber, expiresIn)
				} else {
					// Certificate expires within the warning period
					result.Err = fmt.Errorf(errExpiringSoon, host, cert.Subject.CommonName, cert.SerialNumber, expiresIn/24)
				}
			}

			// Check the signature algorithm (ignoring the root certificate)
			if alg, exists := sunsetSigAlgs[cert.SignatureAlgorithm]; checkSigAlg && exists && certNum != len(chain)-1 {
				if cert.NotAfter.Equal(alg.sunsetsAt) || cert.NotAfter.After(alg.sunsetsAt) {
					result.Err = fmt.Errorf(errSunsetAlg, host, cert.Subject.CommonName, cert.SerialNumber, alg.name)
				}
			}

			// Store the common name from the first certificate
			if result.CommonName == "" {
				result.CommonName = cert.Subject.CommonName
			}
		}
	}

	return
}
