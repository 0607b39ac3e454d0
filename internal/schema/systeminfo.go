// Package schema implements the V2 Packet Validator:
// structural and semantic validation of the JSON identity, application,
// property-registration, and log payloads, stripping unknown keys and
// raising ErrPayloadJSONInvalid / ErrPayloadSchemaInvalid on failure.
//
// Unknown keys are discarded by decoding into a typed struct (the same
// "select the known fields, drop the rest" shape config.Config uses with
// mapstructure tags) rather than hand-walking a generic map.
package schema

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

var macHexPairRE = regexp.MustCompile(`^[0-9A-Fa-f]{2}$`)

// wireSystemInfo mirrors SystemInfo's JSON shape for decoding; unknown
// keys fall out naturally since encoding/json ignores them.
type wireSystemInfo struct {
	ApiVer       *int          `json:"api_ver"`
	GBLibVer     string        `json:"gb_lib_ver"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Capabilities []string      `json:"capabilities"`
	Platform     *wirePlatform `json:"platform"`
	MAC          string        `json:"mac"`
	IP           string        `json:"ip"`
	NumProps     *int          `json:"num_props"`
}

type wirePlatform struct {
	Name          string `json:"name"`
	Variant       string `json:"variant"`
	Ver           string `json:"ver"`
	GBPkgVer      string `json:"gb_pkg_ver"`
	BootloaderVer string `json:"bootloader_ver"`
}

// ParseSystemInfo validates a system/info identity payload.
func ParseSystemInfo(payload []byte) (*regtypes.SystemInfo, error) {
	var w wireSystemInfo
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrPayloadJSONInvalid, err)
	}

	if w.ApiVer == nil {
		return nil, fmt.Errorf("%w: api_ver is required", ingesterr.ErrPayloadSchemaInvalid)
	}
	if regtypes.ApiVersion(*w.ApiVer) != regtypes.ApiVersionV2 {
		return nil, fmt.Errorf("%w: api_ver must be 2", ingesterr.ErrUnknownAPIVersion)
	}

	category := regtypes.ComponentCategory(w.Type)
	if !category.Valid() {
		return nil, fmt.Errorf("%w: type %q is not a known component category", ingesterr.ErrPayloadSchemaInvalid, w.Type)
	}

	caps := make([]regtypes.Capability, 0, len(w.Capabilities))
	for _, c := range w.Capabilities {
		cap := regtypes.Capability(c)
		if !cap.Valid() {
			return nil, fmt.Errorf("%w: capability %q is not known", ingesterr.ErrPayloadSchemaInvalid, c)
		}
		caps = append(caps, cap)
	}

	if !validMAC(w.MAC) {
		return nil, fmt.Errorf("%w: mac %q is not a valid colon/dash-separated hex address", ingesterr.ErrPayloadSchemaInvalid, w.MAC)
	}

	if !validIPv4(w.IP) {
		return nil, fmt.Errorf("%w: ip %q is not a valid dotted-quad IPv4 address", ingesterr.ErrPayloadSchemaInvalid, w.IP)
	}

	if w.NumProps == nil || *w.NumProps < 0 {
		return nil, fmt.Errorf("%w: num_props must be a non-negative integer", ingesterr.ErrPayloadSchemaInvalid)
	}

	info := &regtypes.SystemInfo{
		ApiVer:       regtypes.ApiVersionV2,
		GBLibVer:     w.GBLibVer,
		Name:         w.Name,
		Type:         category,
		Capabilities: caps,
		MAC:          w.MAC,
		IP:           w.IP,
		NumProps:     *w.NumProps,
	}

	if w.Platform != nil {
		if w.Platform.Name == "" {
			return nil, fmt.Errorf("%w: platform.name is required when platform is present", ingesterr.ErrPayloadSchemaInvalid)
		}
		info.Platform = &regtypes.PlatformInfo{
			Name:          w.Platform.Name,
			Variant:       w.Platform.Variant,
			Ver:           w.Platform.Ver,
			GBPkgVer:      w.Platform.GBPkgVer,
			BootloaderVer: w.Platform.BootloaderVer,
		}
	}

	return info, nil
}

// validMAC checks six hex pairs joined by a single, uniform separator
// (all colons or all dashes — RE2 has no backreferences, so the uniform-
// separator rule is enforced by splitting rather than one regex).
func validMAC(s string) bool {
	var sep string
	switch {
	case strings.Contains(s, ":"):
		sep = ":"
	case strings.Contains(s, "-"):
		sep = "-"
	default:
		return false
	}
	pairs := strings.Split(s, sep)
	if len(pairs) != 6 {
		return false
	}
	for _, p := range pairs {
		if !macHexPairRE.MatchString(p) {
			return false
		}
	}
	return true
}

// validIPv4 enforces dotted-quad IPv4 with no leading zeros per octet:
// four all-digit parts are checked explicitly, then net.ParseIP checks
// each octet's 0-255 range.
func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}
