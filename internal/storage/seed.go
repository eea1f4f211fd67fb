package storage

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Seed is the YAML fixture format for a memory store.
//
//	clients:
//	  - id: c1
//	    account_id: acct-1
//	    name: Maria da Silva
//	relationships:
//	  - client_id: c1
//	    account_id: acct-1
//	    policies: 2
type Seed struct {
	Clients       []models.Client `yaml:"clients"`
	Relationships []SeedCounts    `yaml:"relationships"`
}

type SeedCounts struct {
	ClientID     string `yaml:"client_id"`
	AccountID    string `yaml:"account_id"`
	Policies     int    `yaml:"policies"`
	Appointments int    `yaml:"appointments"`
	Claims       int    `yaml:"claims"`
}

// ReadSeed decodes a seed document.
func ReadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	return &seed, nil
}

// Load adds the seed's clients and dependent records.
func (m *Memory) Load(seed *Seed) {
	for _, c := range seed.Clients {
		m.AddClient(c)
	}
	for _, rc := range seed.Relationships {
		for i := 0; i < rc.Policies; i++ {
			m.AddRecord(models.CategoryPolicies, rc.AccountID, rc.ClientID)
		}
		for i := 0; i < rc.Appointments; i++ {
			m.AddRecord(models.CategoryAppointments, rc.AccountID, rc.ClientID)
		}
		for i := 0; i < rc.Claims; i++ {
			m.AddRecord(models.CategoryClaims, rc.AccountID, rc.ClientID)
		}
	}
}
