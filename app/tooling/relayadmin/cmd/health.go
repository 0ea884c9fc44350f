package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health <host>",
	Short: "Print the rolling statistics for one endpoint.",
	Args:  cobra.ExactArgs(1),
	Run:   healthRun,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func healthRun(cmd *cobra.Command, args []string) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/health/%s", url, args[0]))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("service returned %s", resp.Status)
	}

	decoder := json.NewDecoder(resp.Body)
	var ep endpointStatus
	if err := decoder.Decode(&ep); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: breaker %s\n", ep.Endpoint, ep.Breaker)
	fmt.Printf("latency: p50 %dns, p95 %dns, p99 %dns\n", ep.P50, ep.P95, ep.P99)
	fmt.Printf("errors: %.2f%% over %d samples\n", ep.ErrorRate*100, ep.SampleCount)
}
