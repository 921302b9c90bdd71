// Package version provides version information for the twap-oracle application.
package version

// Version is the current version of the twap-oracle application.
const Version = "0.1.0"
