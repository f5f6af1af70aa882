package connector

import (
	"fmt"
	"strings"
)

// Service identifies a third-party system reachable through a connector.
type Service string

const (
	Gong    Service = "gong"
	HubSpot Service = "hubspot"
	Linear  Service = "linear"
)

// AllServices lists every supported service in registration order.
var AllServices = []Service{Gong, HubSpot, Linear}

// DisplayName is the human readable product name used in messages to the model.
func (s Service) DisplayName() string {
	switch s {
	case Gong:
		return "Gong"
	case HubSpot:
		return "HubSpot"
	case Linear:
		return "Linear"
	default:
		return string(s)
	}
}

// ToolName is the name of the generic execute tool for this service.
func (s Service) ToolName() string {
	return string(s) + "_execute"
}

// ParseServices normalises names such as "HubSpot" or " linear " and rejects
// unknown ones. Duplicates are dropped.
func ParseServices(names []string) ([]Service, error) {
	seen := make(map[Service]bool, len(names))
	out := make([]Service, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		s := Service(n)
		switch s {
		case Gong, HubSpot, Linear:
		default:
			return nil, fmt.Errorf("unknown connector %q", n)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}
