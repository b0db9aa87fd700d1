package main

import (
    "log"

    "github.com/spf13/cobra"

    paxoscli "github.com/paxoslabs/go-mpaxos/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "paxosd",
        Short:         "go-mpaxos node CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    paxoscli.AddAll(root)
    return root
}
