// Package update checks GitHub for newer bridge releases.
//
// The check is advisory: the bridge never self-installs anything, it only
// caches the latest release tag so the web panel can show an update badge.
package update
