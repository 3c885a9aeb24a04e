package utils

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig reads the optional .env file and wires viper to the process
// environment. Missing .env is not an error.
func LoadConfig(path string) {
	_ = godotenv.Load(path + "/.env")
	viper.AddConfigPath(path)
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// CreateFolder ensures every given directory exists.
func CreateFolder(folders ...string) error {
	for _, folder := range folders {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return err
		}
	}
	return nil
}
