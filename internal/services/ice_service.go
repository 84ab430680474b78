package services

import (
	"github.com/confera-app/backend/internal/config"
)

// ICEServer matches the RTCIceServer dictionary shape the browser
// expects.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEService hands clients the STUN/TURN configuration. The server
// never relays media itself.
type ICEService struct {
	config config.ICEConfig
}

func NewICEService(cfg config.ICEConfig) *ICEService {
	return &ICEService{config: cfg}
}

// Servers returns the ICE server list: STUN always, TURN when
// configured.
func (s *ICEService) Servers() []ICEServer {
	servers := []ICEServer{
		{URLs: s.config.STUNServers},
	}
	if s.config.TURNServerURL != "" {
		servers = append(servers, ICEServer{
			URLs:       []string{s.config.TURNServerURL},
			Username:   s.config.TURNUsername,
			Credential: s.config.TURNCredential,
		})
	}
	return servers
}
