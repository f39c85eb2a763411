package util

import (
	"strings"

	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/ValentinKolb/nsKV/lib/logging"
	"github.com/ValentinKolb/nsKV/lib/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags selecting the store to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "engine"
	cmd.PersistentFlags().String(key, string(db.ImplBolt), WrapString("The storage engine to use (memory, pebble, bolt, sql)"))

	key = "location"
	cmd.PersistentFlags().String(key, "data", WrapString("The directory of the store. For the sql engine with a non sqlite driver this is the data source name"))

	key = "init"
	cmd.PersistentFlags().String(key, "", WrapString("Engine specific options as a semicolon separated list of key=value pairs (e.g. 'noSync=true;timeoutMs=2000')"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("nskv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() store.Config {
	return store.Config{
		Engine:   db.Implementation(viper.GetString("engine")),
		Location: viper.GetString("location"),
		Init:     viper.GetString("init"),
	}
}

// GetNamespace reads and checks the namespace flag
func GetNamespace() (db.Namespace, error) {
	ns := db.Namespace(strings.ToUpper(viper.GetString("namespace")))
	if !ns.Valid() {
		return "", db.NewError(db.ErrCInvalidArgument, "unknown namespace %q (available: %v)", ns, db.Namespaces())
	}
	return ns, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// OpenStore binds the flags, configures logging and opens the configured store
func OpenStore(cmd *cobra.Command) (*store.Handle, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	if err := logging.InitLoggers(viper.GetString("log-level")); err != nil {
		return nil, err
	}
	return store.Open(GetStoreConfig())
}

// CloseStore closes every store opened by the command
func CloseStore(_ *cobra.Command, _ []string) error {
	return store.CloseAll()
}
