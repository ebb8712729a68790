package healthcheck

import "context"

type funcProbe struct {
	name  string
	check func(ctx context.Context) error
}

// ProbeFunc adapts a check function, e.g. a client's PingContext or Ping.
func ProbeFunc(name string, check func(ctx context.Context) error) Probe {
	return funcProbe{name: name, check: check}
}

func (p funcProbe) Name() string { return p.name }

func (p funcProbe) Check(ctx context.Context) error { return p.check(ctx) }
