package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Session is the participant's seed for one trading round
type Session struct {
	PCode        string
	Cash         int64
	Assets       map[string]int64
	RoundSeconds int
}

// LoadEnvFile exports the variables in the .env file at path. Variables
// already present in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadSession reads the session seed. Values come from defaults, then the
// optional file at path, then MARKET_* environment variables.
//
// Assets are written as "NAME=amount" pairs separated by commas so that
// instrument names keep their case.
func LoadSession(path string) (Session, error) {
	v := viper.New()

	v.SetDefault("MARKET_PCODE", "")
	v.SetDefault("MARKET_CASH", 0)
	v.SetDefault("MARKET_ASSETS", "")
	v.SetDefault("MARKET_ROUND_SECONDS", 0)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Session{}, fmt.Errorf("failed to read session file: %w", err)
		}
	}

	v.AutomaticEnv()

	assets, err := parseAssets(v.GetString("MARKET_ASSETS"))
	if err != nil {
		return Session{}, err
	}
	s := Session{
		PCode:        v.GetString("MARKET_PCODE"),
		Cash:         v.GetInt64("MARKET_CASH"),
		Assets:       assets,
		RoundSeconds: v.GetInt("MARKET_ROUND_SECONDS"),
	}

	if err := validateSession(s); err != nil {
		return Session{}, fmt.Errorf("invalid session: %w", err)
	}
	return s, nil
}

// Holdings returns the starting holdings described by the session
func (s Session) Holdings() core.Holdings {
	return core.NewHoldings(s.Cash, s.Assets)
}

func validateSession(s Session) error {
	if s.PCode == "" {
		return fmt.Errorf("MARKET_PCODE must not be empty")
	}
	if s.RoundSeconds < 0 {
		return fmt.Errorf("MARKET_ROUND_SECONDS must not be negative")
	}
	return nil
}

func parseAssets(s string) (map[string]int64, error) {
	assets := make(map[string]int64)
	for _, pair := range splitList(s) {
		name, amount, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("asset %q: expected NAME=amount: %w", pair, core.ErrInvalidArgument)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", pair, core.ErrInvalidArgument)
		}
		assets[name] = n
	}
	return assets, nil
}
