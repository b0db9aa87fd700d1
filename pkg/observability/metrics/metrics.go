package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    BallotNum = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "acceptor",
        Name:      "ballot_num",
        Help:      "Highest ballot round this acceptor has promised",
    })

    AcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "acceptor",
        Name:      "accepted_total",
        Help:      "Total number of P2A accepts durably recorded",
    })

    DurabilityFailures = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "acceptor",
        Name:      "durability_failures_total",
        Help:      "Total number of durable log writes that failed",
    })

    IsActiveLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "leader",
        Name:      "is_active",
        Help:      "1 if this replica's leader is currently active (phase 1 complete), else 0",
    })

    LeaderBallotRound = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "leader",
        Name:      "ballot_round",
        Help:      "Current ballot round this leader is pushing",
    })

    PreemptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "leader",
        Name:      "preemptions_total",
        Help:      "Total number of times this leader observed a higher ballot and yielded",
    })

    ScoutsSpawned = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "leader",
        Name:      "scouts_spawned_total",
        Help:      "Total number of scouts spawned by this leader",
    })

    CommandersSpawned = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "leader",
        Name:      "commanders_spawned_total",
        Help:      "Total number of commanders spawned by this leader",
    })

    SlotIn = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "replica",
        Name:      "slot_in",
        Help:      "Next slot this replica will propose into",
    })

    SlotOut = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "replica",
        Name:      "slot_out",
        Help:      "Next slot this replica will apply",
    })

    PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "replica",
        Name:      "pending_requests",
        Help:      "Number of client requests queued but not yet proposed",
    })

    DecisionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "replica",
        Name:      "decisions_applied_total",
        Help:      "Total number of decided slots applied to the state machine",
    })

    RequestsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "replica",
        Name:      "requests_requeued_total",
        Help:      "Total number of proposals displaced by a conflicting decision and requeued",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "mpaxos",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "mpaxos",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(BallotNum)
        prometheus.MustRegister(AcceptedTotal)
        prometheus.MustRegister(DurabilityFailures)
        prometheus.MustRegister(IsActiveLeader)
        prometheus.MustRegister(LeaderBallotRound)
        prometheus.MustRegister(PreemptionsTotal)
        prometheus.MustRegister(ScoutsSpawned)
        prometheus.MustRegister(CommandersSpawned)
        prometheus.MustRegister(SlotIn)
        prometheus.MustRegister(SlotOut)
        prometheus.MustRegister(PendingRequests)
        prometheus.MustRegister(DecisionsApplied)
        prometheus.MustRegister(RequestsRequeued)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
