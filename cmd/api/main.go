//	@title			Articles API
//	@version		1.0
//	@description	Create-article forms: edit fields, attach an image, publish with upload progress.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "articles",
		Short: "Create and publish articles with an uploaded cover image",
		Long: `articles serves the create-article form over HTTP and can publish
an article straight from the command line.

Configuration is read from .env, an optional YAML file named by
CONFIG_FILE, and the environment, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		publishCmd(),
		migrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
