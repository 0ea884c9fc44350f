package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

type endpointStatus struct {
	Endpoint    string  `json:"endpoint"`
	Breaker     string  `json:"breaker"`
	P50         int64   `json:"p50_ns"`
	P95         int64   `json:"p95_ns"`
	P99         int64   `json:"p99_ns"`
	ErrorRate   float64 `json:"error_rate"`
	SampleCount int     `json:"sample_count"`
}

type status struct {
	Live      int              `json:"live_connections"`
	InUse     int              `json:"in_use"`
	Idle      int              `json:"idle"`
	Endpoints []endpointStatus `json:"endpoints"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the pool and breaker overview.",
	Run:   statusRun,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(cmd *cobra.Command, args []string) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/status", url))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	var status status
	if err := decoder.Decode(&status); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("connections: live %d, in use %d, idle %d\n", status.Live, status.InUse, status.Idle)
	for _, ep := range status.Endpoints {
		fmt.Printf("%s: breaker %s, p50 %dns, p95 %dns, p99 %dns, errors %.2f%% over %d samples\n",
			ep.Endpoint, ep.Breaker, ep.P50, ep.P95, ep.P99, ep.ErrorRate*100, ep.SampleCount)
	}
}
