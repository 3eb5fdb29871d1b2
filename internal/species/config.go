package species

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultConfigPath is where the notebook lifecycle script drops the config.
const DefaultConfigPath = "/home/ec2-user/SageMaker/config.json"

// Config is stage two's startup configuration. Every field is required;
// a missing field is fatal at startup.
type Config struct {
	BucketName      string `json:"bucket_name"`
	ModelName       string `json:"model_name"`
	NotebookName    string `json:"notebook_name"`
	S3Region        string `json:"s3_region"`
	SageMakerRegion string `json:"sagemaker_region"`
}

// LoadConfig reads and validates the config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	for name, v := range map[string]string{
		"bucket_name":      cfg.BucketName,
		"model_name":       cfg.ModelName,
		"notebook_name":    cfg.NotebookName,
		"s3_region":        cfg.S3Region,
		"sagemaker_region": cfg.SageMakerRegion,
	} {
		if v == "" {
			return Config{}, fmt.Errorf("config %s: missing required field %q", path, name)
		}
	}
	return cfg, nil
}
