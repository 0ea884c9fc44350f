package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

type entropy struct {
	Bytes     string `json:"bytes"`
	Requested string `json:"requested_tier"`
	Served    string `json:"served_tier"`
	Quality   int    `json:"quality"`
	Sources   int    `json:"sources_active"`
}

var (
	tier   string
	length int
)

var entropyCmd = &cobra.Command{
	Use:   "entropy",
	Short: "Collect entropy from the service.",
	Run:   entropyRun,
}

func init() {
	rootCmd.AddCommand(entropyCmd)
	entropyCmd.Flags().StringVarP(&tier, "tier", "t", "fast", "Entropy tier: fast, hybrid or enhanced.")
	entropyCmd.Flags().IntVarP(&length, "length", "l", 32, "Number of bytes to collect.")
}

func entropyRun(cmd *cobra.Command, args []string) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/entropy?tier=%s&length=%d", url, tier, length))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("service returned %s", resp.Status)
	}

	decoder := json.NewDecoder(resp.Body)
	var ent entropy
	if err := decoder.Decode(&ent); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("tier: requested %s, served %s\n", ent.Requested, ent.Served)
	fmt.Printf("quality: %d, sources active: %d\n", ent.Quality, ent.Sources)
	fmt.Println(ent.Bytes)
}
