// Command tokengen mints access tokens for an assessment roster using the
// service's own auth settings.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"redlight/internal/auth"

	"gopkg.in/yaml.v3"
)

type Roster struct {
	ServiceConfig string        `yaml:"serviceConfig"`
	TTL           time.Duration `yaml:"ttl"`
	Output        string        `yaml:"output"`
	Participants  []Entry       `yaml:"participants"`
}

type Entry struct {
	ID   string `yaml:"id"`
	Team string `yaml:"team"`
	Role string `yaml:"role"`
}

type serviceAuth struct {
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
		JWTIssuer string `yaml:"jwtIssuer"`
	} `yaml:"auth"`
}

type issued struct {
	Team  string `yaml:"team"`
	Role  string `yaml:"role"`
	Token string `yaml:"token"`
}

func main() {
	rosterPath := flag.String("roster", "configs/roster.yaml", "Path to roster file")
	output := flag.String("output", "", "Override output path")
	flag.Parse()

	rosterAbs, err := filepath.Abs(*rosterPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve roster path failed: %v\n", err)
		os.Exit(1)
	}
	roster, err := loadRoster(rosterAbs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load roster failed: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		roster.Output = *output
	}
	rosterDir := filepath.Dir(rosterAbs)

	servicePath := roster.ServiceConfig
	if !filepath.IsAbs(servicePath) {
		servicePath = filepath.Join(rosterDir, servicePath)
	}
	var svcCfg serviceAuth
	if err := loadYAML(servicePath, &svcCfg); err != nil {
		fmt.Fprintf(os.Stderr, "load service config failed: %v\n", err)
		os.Exit(1)
	}
	if svcCfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "service config has no auth.jwtSecret")
		os.Exit(1)
	}
	issuer := svcCfg.Auth.JWTIssuer
	if issuer == "" {
		issuer = "redlight"
	}
	signer := auth.NewService(svcCfg.Auth.JWTSecret, issuer, nil)

	tokens, err := mint(signer, roster)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint tokens failed: %v\n", err)
		os.Exit(1)
	}

	outputPath := roster.Output
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(rosterDir, outputPath)
	}
	if err := writeYAML(outputPath, tokens); err != nil {
		fmt.Fprintf(os.Stderr, "write tokens failed: %v\n", err)
		os.Exit(1)
	}

	teams := teamsOf(roster.Participants)
	fmt.Printf("minted %d tokens into %s\n", len(tokens), outputPath)
	fmt.Printf("teams to seed under score.teams: %v\n", teams)
}

func loadRoster(path string) (*Roster, error) {
	var roster Roster
	if err := loadYAML(path, &roster); err != nil {
		return nil, err
	}
	if len(roster.Participants) == 0 {
		return nil, errors.New("roster has no participants")
	}
	if roster.ServiceConfig == "" {
		roster.ServiceConfig = "assessment_service.yaml"
	}
	if roster.TTL <= 0 {
		roster.TTL = 6 * time.Hour
	}
	if roster.Output == "" {
		roster.Output = "tokens.yaml"
	}
	return &roster, nil
}

func mint(signer *auth.Service, roster *Roster) (map[string]issued, error) {
	tokens := make(map[string]issued, len(roster.Participants))
	for _, entry := range roster.Participants {
		if entry.ID == "" {
			return nil, errors.New("participant id is required")
		}
		if _, dup := tokens[entry.ID]; dup {
			return nil, fmt.Errorf("participant %s listed twice", entry.ID)
		}
		role := entry.Role
		if role == "" {
			role = auth.RoleParticipant
		}
		team := entry.Team
		if team == "" {
			team = entry.ID
		}
		token, err := signer.Sign(auth.Participant{ID: entry.ID, TeamID: team, Role: role}, roster.TTL)
		if err != nil {
			return nil, fmt.Errorf("sign %s failed: %w", entry.ID, err)
		}
		tokens[entry.ID] = issued{Team: team, Role: role, Token: token}
	}
	return tokens, nil
}

func teamsOf(entries []Entry) []string {
	seen := make(map[string]bool, len(entries))
	teams := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Role == auth.RoleAdmin {
			continue
		}
		team := entry.Team
		if team == "" {
			team = entry.ID
		}
		if !seen[team] {
			seen[team] = true
			teams = append(teams, team)
		}
	}
	sort.Strings(teams)
	return teams
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read yaml failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse yaml failed: %w", err)
	}
	return nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}
