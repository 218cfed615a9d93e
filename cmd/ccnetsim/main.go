// Command ccnetsim plays the device side of the bill validator
// protocol against a serial port, so the driver (and its admin API)
// can be exercised without real hardware.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ccnetdrv/ccnetd/internal/ccnet"
)

func main() {
	var (
		port    = flag.String("port", "/dev/ttyUSB1", "serial port to listen on")
		baud    = flag.Int("baud", 9600, "baud rate")
		address = flag.Int("address", int(ccnet.DefaultAddress), "device address")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	serialPort, err := ccnet.Dial(ccnet.DialConfig{Port: *port, BaudRate: *baud})
	if err != nil {
		log.Fatalf("unable to open %s: %v", *port, err)
	}
	defer serialPort.Close()

	bills := []ccnet.SimulatedBillType{
		{Index: 0, CashType: ccnet.CashType{CurrencyCode: "USD", Denomination: 100}},
		{Index: 1, CashType: ccnet.CashType{CurrencyCode: "USD", Denomination: 500}},
		{Index: 2, CashType: ccnet.CashType{CurrencyCode: "USD", Denomination: 1000}, SecurityLevel: ccnet.SecurityHigh},
		{Index: 3, CashType: ccnet.CashType{CurrencyCode: "USD", Denomination: 2000}},
		{Index: 4, CashType: ccnet.CashType{CurrencyCode: "USD", Denomination: 5000}, SecurityLevel: ccnet.SecurityHigh},
	}

	info := ccnet.DeviceInfo{
		PartNumber:   "CCNETSIM-1",
		SerialNumber: "000000000001",
		AssetNumber:  1,
	}

	sim := ccnet.NewSimulator(serialPort, byte(*address), info, bills, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("simulator stopped", zap.Error(err))
		}
	}()

	fmt.Printf("=== bill validator simulator ===\nport: %s @ %d baud, address 0x%02x\n", *port, *baud, byte(*address))
	fmt.Println("configured bills:")
	for _, b := range bills {
		fmt.Printf("  %d: %s%d (%s)\n", b.Index, b.CashType.CurrencyCode, b.CashType.Denomination, b.SecurityLevel)
	}
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  insert <index>  - simulate inserting the bill at that index")
	fmt.Println("  quit            - exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit":
			return
		case "insert":
			if len(fields) != 2 {
				fmt.Println("usage: insert <index>")
				continue
			}
			index, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("index must be a number")
				continue
			}
			if err := sim.InsertBill(index); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("bill %d now in escrow\n", index)
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}
