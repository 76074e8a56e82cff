package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

// iceFile is the ICE_SERVERS_FILE layout:
//
//	ice_servers:
//	  - urls: ["stun:stun.example.com:3478"]
//	  - urls: ["turn:turn.example.com:3478?transport=udp"]
//	    username: user
//	    credential: secret
type iceFile struct {
	ICEServers []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username"`
		Credential string   `yaml:"credential"`
	} `yaml:"ice_servers"`
}

// loadICEServers reads servers from the YAML file when path is set, otherwise from a
// comma separated URL list with one server per URL. Both empty yields nil.
func loadICEServers(list, path string) ([]webrtc.ICEServer, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ICE_SERVERS_FILE: %w", err)
		}
		return parseICEFile(b)
	}

	var out []webrtc.ICEServer
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return out, nil
}

func parseICEFile(b []byte) ([]webrtc.ICEServer, error) {
	var f iceFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("ICE_SERVERS_FILE: %w", err)
	}
	out := make([]webrtc.ICEServer, 0, len(f.ICEServers))
	for _, s := range f.ICEServers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out, nil
}

// validateICEServers checks every URL parses as a STUN/TURN URI and TURN entries carry
// credentials.
func validateICEServers(servers []webrtc.ICEServer) []error {
	var errs []error
	for i, s := range servers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice server %d has no urls", i))
			continue
		}
		for _, raw := range s.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("ice server %d: invalid url %q: %w", i, raw, err))
				continue
			}
			if (u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS) && (s.Username == "" || s.Credential == nil || s.Credential == "") {
				errs = append(errs, fmt.Errorf("ice server %d: turn url %q requires username and credential", i, raw))
			}
		}
	}
	return errs
}
