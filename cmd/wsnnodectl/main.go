package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var addrFlag string

// sendCommand connects to addr, sends one line, and returns the OK/ERROR
// reply line plus, for an "OK count=N" reply, the N data lines that follow.
func sendCommand(addr, line string) ([]string, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var lines []string
	pending := 0 // data lines still expected after an "OK count=N" reply
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		text := scanner.Text()
		lines = append(lines, text)
		if len(lines) > 1 {
			if pending--; pending <= 0 {
				break
			}
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(text, "OK count=")); err == nil && n > 0 {
			pending = n // NEIGHBORS reply continues with n data lines
			continue
		}
		break
	}
	return lines, scanner.Err()
}

func printResult(lines []string, err error) {
	if err != nil {
		fmt.Println(color.RedString("ERROR %v", err))
		os.Exit(1)
	}
	if len(lines) == 0 {
		fmt.Println(color.RedString("ERROR empty response"))
		os.Exit(1)
	}
	if strings.HasPrefix(lines[0], "ERROR") {
		fmt.Println(color.RedString(lines[0]))
		os.Exit(1)
	}
	fmt.Println(color.GreenString(lines[0]))
	for _, l := range lines[1:] {
		fmt.Println(l)
	}
}

func newSetWeightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-weights battery uptime trust link_quality",
		Short: "Set and renormalize the node's linear score weights",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			line := "SET_WEIGHTS " + strings.Join(args, " ")
			printResult(sendCommand(addrFlag, line))
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config key=value",
		Short: "Persist a single configuration-surface key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printResult(sendCommand(addrFlag, "CONFIG "+args[0]))
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node's current role, score, and neighbor count",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printResult(sendCommand(addrFlag, "STATUS"))
		},
	}
}

func newNeighborsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors",
		Short: "List the node's currently tracked neighbors",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			lines, err := sendCommand(addrFlag, "NEIGHBORS")
			if err != nil {
				fmt.Println(color.RedString("ERROR %v", err))
				os.Exit(1)
			}
			if len(lines) == 0 || strings.HasPrefix(lines[0], "ERROR") {
				printResult(lines, nil)
				return
			}
			printNeighborsTable(lines[1:])
		},
	}
}

func printNeighborsTable(rows []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"node_id", "rssi", "score", "battery", "trust", "link_quality", "is_ch"})
	for _, row := range rows {
		fields := map[string]string{}
		for _, kv := range strings.Fields(row) {
			k, v, ok := strings.Cut(kv, "=")
			if ok {
				fields[k] = v
			}
		}
		table.Append([]string{
			fields["node_id"], fields["rssi"], fields["score"],
			fields["battery"], fields["trust"], fields["link_quality"], fields["is_ch"],
		})
	}
	table.Render()
}

func main() {
	root := &cobra.Command{
		Use:   "wsnnodectl",
		Short: "Administrative console client for a wsncoord cluster node",
	}
	root.PersistentFlags().StringVar(&addrFlag, "addr", "127.0.0.1:4271", "node admin console address")

	root.AddCommand(newSetWeightsCmd(), newConfigCmd(), newStatusCmd(), newNeighborsCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
