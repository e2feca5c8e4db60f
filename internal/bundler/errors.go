package bundler

import (
	"fmt"
	"strings"
)

// AssetResolutionError is returned when a referenced asset cannot be
// found. Attempted lists the extension variants that were tried, relative
// to the project root.
type AssetResolutionError struct {
	Path      string
	Attempted []string
	// NeedsExtension is set when the path had no extension and no
	// resolve extensions were configured.
	NeedsExtension bool
}

func (e *AssetResolutionError) Error() string {
	msg := fmt.Sprintf("'%s' does not exist.", e.Path)
	if len(e.Attempted) > 0 {
		msg += " Tried the following paths: " + strings.Join(e.Attempted, ", ")
	}
	if e.NeedsExtension {
		msg += " You must include the file extension unless referring to a directory with an index file."
	}
	return msg
}

// SuffixNotAllowedError is returned when a path's extension is outside
// the accepted whitelist.
type SuffixNotAllowedError struct {
	Path      string
	Whitelist []string
	Hint      string
}

func (e *SuffixNotAllowedError) Error() string {
	msg := fmt.Sprintf("file must have one of the extension(s): %s. Received: '%s'.", strings.Join(e.Whitelist, ", "), e.Path)
	if e.Hint != "" {
		msg += " " + e.Hint
	}
	return msg
}

// ManifestAssetMissingError is returned when a path has no entry in the
// build manifest, meaning the asset was not included in the build.
type ManifestAssetMissingError struct {
	Path         string
	ManifestFile string
}

func (e *ManifestAssetMissingError) Error() string {
	return fmt.Sprintf("%s not found in manifest file '%s'", e.Path, e.ManifestFile)
}
