package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"igps/internal/license"
)

// license-keygen is the vendor-side tool that mints activation keys for a
// customer machine. It needs the hardware id the customer reads off the
// GET /api/license/hardware endpoint (or the About dialog).
func main() {
	hardwareID := flag.String("hardware-id", "", "customer device fingerprint (required)")
	licenseType := flag.String("type", "standard", "license type: standard | professional | enterprise")
	days := flag.Int("days", 90, "validity in days from today (1-1023)")
	count := flag.Int("count", 1, "number of keys to generate (1-16)")
	out := flag.String("out", "", "output file (defaults to stdout)")
	secret := flag.String("secret", "", "signing secret (defaults to the embedded secret)")
	flag.Parse()

	if *hardwareID == "" {
		fmt.Fprintln(os.Stderr, "error: -hardware-id is required")
		flag.Usage()
		os.Exit(2)
	}

	typ, err := parseType(*licenseType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if *count < 1 || *count > 16 {
		fmt.Fprintf(os.Stderr, "error: -count must be between 1 and 16, got %d\n", *count)
		os.Exit(2)
	}

	var codec *license.Codec
	if *secret != "" {
		codec = license.NewCodec([]byte(*secret))
	} else {
		codec = license.NewBuiltinCodec()
	}

	w := bufio.NewWriter(os.Stdout)
	if *out != "" {
		f, err := os.OpenFile(*out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = bufio.NewWriter(f)
	}
	defer w.Flush()

	now := time.Now().UTC()
	issued := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	binding := license.BindingOf(*hardwareID)

	for serial := 0; serial < *count; serial++ {
		key, err := codec.Encode(license.Payload{
			Type:      typ,
			Binding:   binding,
			IssuedAt:  issued,
			ExpiresAt: issued.AddDate(0, 0, *days),
			Serial:    uint8(serial),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: encode key: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(w, license.FormatKey(key))
	}
}

func parseType(s string) (license.Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return license.TypeStandard, nil
	case "professional":
		return license.TypeProfessional, nil
	case "enterprise":
		return license.TypeEnterprise, nil
	default:
		return 0, fmt.Errorf("unknown license type %q", s)
	}
}
