package cmd

import (
	"pipeplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Administer tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant and print its API key",
	Long: `Create a tenant. The API key is printed once and cannot be recovered later.

Requires the controller's internal secret (--secret or PIPEPLANE_SECRET).

Example:
  pipectl tenant create --name acme --rate-limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		rateLimit, _ := flags.GetInt("rate-limit")
		burst, _ := flags.GetInt("burst")

		secret := viper.GetString("secret")
		if secret == "" {
			cmd.Println("Internal secret not found. Please set it using the --secret flag or the PIPEPLANE_SECRET environment variable")
			return
		}

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewClient(viper.GetString("url"), secret)
		result, err := client.CreateTenant(api.CreateTenantRequest{
			Name:           name,
			RateLimit:      rateLimit,
			RateLimitBurst: burst,
		})
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Tenant created!\nID: %s\nName: %s\nAPI Key: %s\n", result.ID, result.Name, result.ApiKey)
		cmd.Println("Store the API key now, it will not be shown again.")
	},
}

func init() {
	flags := tenantCreateCmd.Flags()
	flags.StringP("name", "n", "", "Name of the tenant (required)")
	flags.Int("rate-limit", 0, "Requests per second (0 uses the server default)")
	flags.Int("burst", 0, "Rate limit burst (0 uses the rate limit)")

	tenantCmd.AddCommand(tenantCreateCmd)
	rootCmd.AddCommand(tenantCmd)
}
