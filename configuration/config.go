package configuration

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/midnightos/treasury/models"
	configure "github.com/ndau/go-config"
	logger "github.com/ndau/go-logger"
)

const (
	dbURL       = "TREASURY_CONNECTION_STRING"
	legacyDbURL = "NDAU_CONNECTION_STRING"
)

// LoadConfig reads the "env" section over the defaults and validates it.
func LoadConfig(ctx context.Context, cfg configure.Config, log logger.Logger) (*models.Config, error) {
	log.Info("Get config from local file")
	return Decode(cfg.GetStringMap("env"))
}

// Decode resolves a raw key/value map into a validated configuration. Keys
// may be upper or lower case; string values are converted to the field types.
func Decode(env map[string]interface{}) (*models.Config, error) {
	ret := models.DefaultConfig()

	normalized := make(map[string]interface{}, len(env))
	for k, v := range env {
		normalized[strings.ToUpper(k)] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &ret,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build config decoder")
	}
	if err := decoder.Decode(normalized); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	ret.DBDriver = strings.ToLower(strings.TrimSpace(ret.DBDriver))

	if err := loadEnvConfig(normalized, &ret); err != nil {
		return nil, err
	}
	if err := validate(&ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func loadEnvConfig(dm map[string]interface{}, cfg *models.Config) error {
	//DB access
	val, ok := dm[dbURL]
	if !ok {
		val, ok = dm[legacyDbURL]
	}
	if !ok {
		if cfg.DBDriver == "sqlite" {
			return nil
		}
		return fmt.Errorf("no field '%s' in the secret", dbURL)
	}

	db, ok := val.(string)
	if !ok {
		return fmt.Errorf("field '%s' in the secret is not a string but a '%T'", dbURL, val)
	}
	cfg.ConnectionString = db

	return nil
}

func validate(cfg *models.Config) error {
	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER '%s'", cfg.DBDriver)
	}
	if cfg.QuorumPercentage <= 0 || cfg.QuorumPercentage > 1 {
		return fmt.Errorf("QUORUM_PERCENTAGE must be in (0, 1], got %v", cfg.QuorumPercentage)
	}
	if cfg.ApprovalThreshold <= 0 || cfg.ApprovalThreshold > 1 {
		return fmt.Errorf("APPROVAL_THRESHOLD must be in (0, 1], got %v", cfg.ApprovalThreshold)
	}
	if cfg.VotingPeriod <= 0 {
		return fmt.Errorf("VOTING_PERIOD must be positive, got %s", cfg.VotingPeriod)
	}
	if cfg.LedgerTimeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive, got %s", cfg.LedgerTimeout)
	}
	if cfg.HTTPPort <= 0 {
		return fmt.Errorf("HTTP_PORT must be positive, got %d", cfg.HTTPPort)
	}
	return nil
}
