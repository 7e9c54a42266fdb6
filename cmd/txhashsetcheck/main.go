// Command txhashsetcheck opens a TxHashSet directory, recomputes its MMR
// roots, and checks them against a header supplied as a small JSON file —
// the one outer surface this module owns directly, for an operator to run
// against a node's data directory without wiring up the rest of the node.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/txhashset"
)

// headerJSON is the on-disk shape a caller supplies: chain.Header's fixed
// byte arrays written as hex strings instead of JSON number arrays.
type headerJSON struct {
	Height            uint64 `json:"height"`
	Hash              string `json:"hash"`
	KernelMMRSize     uint64 `json:"kernel_mmr_size"`
	KernelRoot        string `json:"kernel_root"`
	OutputMMRSize     uint64 `json:"output_mmr_size"`
	OutputRoot        string `json:"output_root"`
	RangeProofMMRSize uint64 `json:"range_proof_mmr_size"`
	RangeProofRoot    string `json:"range_proof_root"`
}

func (h headerJSON) toHeader() (chain.Header, error) {
	var out chain.Header
	out.Height = h.Height
	out.KernelMMRSize = h.KernelMMRSize
	out.OutputMMRSize = h.OutputMMRSize
	out.RangeProofMMRSize = h.RangeProofMMRSize

	fields := []struct {
		name string
		hex  string
		dst  []byte
	}{
		{"hash", h.Hash, out.Hash[:]},
		{"kernel_root", h.KernelRoot, out.KernelRoot[:]},
		{"output_root", h.OutputRoot, out.OutputRoot[:]},
		{"range_proof_root", h.RangeProofRoot, out.RangeProofRoot[:]},
	}
	for _, f := range fields {
		if f.hex == "" {
			continue
		}
		raw, err := hex.DecodeString(f.hex)
		if err != nil {
			return chain.Header{}, fmt.Errorf("decode %s: %w", f.name, err)
		}
		if len(raw) != len(f.dst) {
			return chain.Header{}, fmt.Errorf("%s: got %d bytes, want %d", f.name, len(raw), len(f.dst))
		}
		copy(f.dst, raw)
	}
	return out, nil
}

func main() {
	dir := flag.String("dir", "", "path to the TxHashSet directory to open")
	headerPath := flag.String("header", "", "path to a JSON file describing the header to check roots against")
	logLevel := flag.String("log-level", "INFO", "log level: DEBUG, INFO, ERROR")
	flag.Parse()

	logger.New(*logLevel)
	log := logger.Sugar.WithServiceName("txhashsetcheck")

	if *dir == "" {
		log.Errorf("-dir is required")
		os.Exit(2)
	}

	ts, err := txhashset.Open(*dir)
	if err != nil {
		log.Errorf("open %s: %v", *dir, err)
		os.Exit(1)
	}

	roots, err := ts.RootHashes()
	if err != nil {
		log.Errorf("compute root hashes: %v", err)
		os.Exit(1)
	}
	fmt.Printf("kernel_root=%s output_root=%s range_proof_root=%s\n",
		hex.EncodeToString(roots.KernelRoot), hex.EncodeToString(roots.OutputRoot), hex.EncodeToString(roots.RangeProofRoot))
	fmt.Printf("kernel_size=%d output_size=%d range_proof_size=%d\n",
		ts.Kernels().Size(), ts.Outputs().Size(), ts.RangeProofs().Size())

	if *headerPath == "" {
		return
	}

	raw, err := os.ReadFile(*headerPath)
	if err != nil {
		log.Errorf("read header file %s: %v", *headerPath, err)
		os.Exit(1)
	}
	var hj headerJSON
	if err := json.Unmarshal(raw, &hj); err != nil {
		log.Errorf("parse header file %s: %v", *headerPath, err)
		os.Exit(1)
	}
	header, err := hj.toHeader()
	if err != nil {
		log.Errorf("decode header file %s: %v", *headerPath, err)
		os.Exit(1)
	}

	if err := ts.ValidateRoots(header); err != nil {
		log.Errorf("roots do not match header: %v", err)
		os.Exit(1)
	}
	fmt.Println("roots match header")
}
