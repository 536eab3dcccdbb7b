// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrubdpkg

import (
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.etcd.io/etcd/clientv3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/conf"
	"github.com/NVIDIA/csumscrub/incast"
	"github.com/NVIDIA/csumscrub/logger"
	"github.com/NVIDIA/csumscrub/membership"
	"github.com/NVIDIA/csumscrub/memscan"
	"github.com/NVIDIA/csumscrub/sched"
	"github.com/NVIDIA/csumscrub/scrub"
	"github.com/NVIDIA/csumscrub/telemetry"
	"github.com/NVIDIA/csumscrub/utils"
)

const (
	escalationChannelLocal = "local"
	escalationChannelUDP   = "udp"
	escalationChannelEtcd  = "etcd"

	membershipStoreMemory = "memory"
	membershipStoreEtcd   = "etcd"
)

type configStruct struct {
	Rank                uint32
	PoolUUID            uuid.UUID
	Targets             uint32
	Containers          uint32
	RecordsPerContainer uint32
	IsLeader            bool
	EscalationChannel   string
	UDPLeaderAddr       string
	UDPListenAddr       string
	MembershipStore     string

	EtcdEndpoints         []string
	EtcdDialTimeout       time.Duration
	EtcdOpTimeout         time.Duration
	EtcdKeyPrefix         string
	EtcdRedeliverInterval time.Duration

	HTTPServerIPAddr  string
	HTTPServerTCPPort uint16

	TracingExporter   string
	TracingOutputPath string

	Scrubber scrub.Config
}

type targetStruct struct {
	target  uint32         //
	store   *memscan.Store // This target's shard of the pool
	manager *scrub.Manager //
	handle  *scrub.Handle  // == nil if scrubbing is disabled
}

type rankStruct uint32

type globalsStruct struct {
	sync.Mutex                        //
	config       configStruct         //
	confMap      conf.ConfMap         //
	registry     *telemetry.Registry  //
	promRegistry *prometheus.Registry //
	scheduler    *sched.Scheduler     //
	etcdClient   *clientv3.Client     // == nil unless etcd is used
	memberStore  membership.Store     //
	receiver     *incast.Receiver     // == nil unless config.IsLeader
	channel      incast.Channel       //
	udpChannel   *incast.UDPChannel   // == nil unless config.EscalationChannel == "udp"
	udpListener  *incast.UDPListener  // == nil unless config.EscalationChannel == "udp" && config.IsLeader
	etcdWatcher  *incast.EtcdWatcher  // == nil unless config.EscalationChannel == "etcd" && config.IsLeader
	targets      []*targetStruct      //
	httpServer   *http.Server         //
	httpServerWG sync.WaitGroup       //

	tracerProvider *sdktrace.TracerProvider //
	traceFile      *os.File                 // == nil unless Tracing.OutputPath is set
}

var globals globalsStruct

func (rank rankStruct) CurrentRank() uint32 {
	return uint32(rank)
}

func initializeGlobals(confMap conf.ConfMap) (err error) {
	var (
		configJSONified string
	)

	globals.confMap = confMap

	globals.config.Rank, err = confMap.FetchOptionValueUint32("Engine", "Rank")
	if nil != err {
		goto Fail
	}
	globals.config.PoolUUID, err = confMap.FetchOptionValueUUID("Engine", "PoolUUID")
	if nil != err {
		goto Fail
	}
	globals.config.Targets, err = confMap.FetchOptionValueUint32("Engine", "Targets")
	if nil != err {
		goto Fail
	}
	globals.config.Containers, err = confMap.FetchOptionValueUint32("Engine", "Containers")
	if nil != err {
		goto Fail
	}
	globals.config.RecordsPerContainer, err = confMap.FetchOptionValueUint32("Engine", "RecordsPerContainer")
	if nil != err {
		goto Fail
	}
	globals.config.IsLeader, err = confMap.FetchOptionValueBool("Engine", "IsLeader")
	if nil != err {
		goto Fail
	}

	globals.config.EscalationChannel, err = confMap.FetchOptionValueString("Engine", "EscalationChannel")
	if nil != err {
		goto Fail
	}
	switch globals.config.EscalationChannel {
	case escalationChannelLocal:
		if !globals.config.IsLeader {
			err = blunder.NewError(blunder.InvalidConfigError, "Engine.EscalationChannel local requires Engine.IsLeader")
			goto Fail
		}
	case escalationChannelUDP:
		globals.config.UDPLeaderAddr, err = confMap.FetchOptionValueString("Engine", "UDPLeaderAddr")
		if nil != err {
			goto Fail
		}
		if globals.config.IsLeader {
			globals.config.UDPListenAddr, err = confMap.FetchOptionValueString("Engine", "UDPListenAddr")
			if nil != err {
				goto Fail
			}
		}
	case escalationChannelEtcd:
	default:
		err = blunder.NewError(blunder.InvalidConfigError, "Engine.EscalationChannel \"%s\" must be one of local, udp, or etcd", globals.config.EscalationChannel)
		goto Fail
	}

	globals.config.MembershipStore, err = confMap.FetchOptionValueString("Engine", "MembershipStore")
	if nil != err {
		goto Fail
	}
	switch globals.config.MembershipStore {
	case membershipStoreMemory:
		if !globals.config.IsLeader {
			err = blunder.NewError(blunder.InvalidConfigError, "Engine.MembershipStore memory requires Engine.IsLeader")
			goto Fail
		}
	case membershipStoreEtcd:
	default:
		err = blunder.NewError(blunder.InvalidConfigError, "Engine.MembershipStore \"%s\" must be one of memory or etcd", globals.config.MembershipStore)
		goto Fail
	}

	if (escalationChannelEtcd == globals.config.EscalationChannel) || (membershipStoreEtcd == globals.config.MembershipStore) {
		globals.config.EtcdEndpoints, err = confMap.FetchOptionValueStringSlice("Etcd", "Endpoints")
		if nil != err {
			goto Fail
		}
		globals.config.EtcdDialTimeout, err = confMap.FetchOptionValueDuration("Etcd", "DialTimeout")
		if nil != err {
			goto Fail
		}
		globals.config.EtcdOpTimeout, err = confMap.FetchOptionValueDuration("Etcd", "OpTimeout")
		if nil != err {
			goto Fail
		}
		globals.config.EtcdKeyPrefix, err = confMap.FetchOptionValueString("Etcd", "KeyPrefix")
		if nil != err {
			goto Fail
		}
		if nil == confMap.VerifyOptionIsMissing("Etcd", "RedeliverInterval") {
			globals.config.EtcdRedeliverInterval = incast.DefaultEtcdRedeliverInterval
		} else {
			globals.config.EtcdRedeliverInterval, err = confMap.FetchOptionValueDuration("Etcd", "RedeliverInterval")
			if nil != err {
				goto Fail
			}
			if 0 >= globals.config.EtcdRedeliverInterval {
				err = blunder.NewError(blunder.InvalidConfigError, "Etcd.RedeliverInterval must be positive")
				goto Fail
			}
		}
	}

	globals.config.HTTPServerIPAddr, err = confMap.FetchOptionValueString("HTTPServer", "IPAddr")
	if nil != err {
		goto Fail
	}
	globals.config.HTTPServerTCPPort, err = confMap.FetchOptionValueUint16("HTTPServer", "TCPPort")
	if nil != err {
		goto Fail
	}

	// [Tracing] is optional
	if nil == confMap.VerifyOptionIsMissing("Tracing", "Exporter") {
		globals.config.TracingExporter = tracingExporterNone
	} else {
		globals.config.TracingExporter, err = confMap.FetchOptionValueString("Tracing", "Exporter")
		if nil != err {
			goto Fail
		}
	}
	switch globals.config.TracingExporter {
	case tracingExporterNone:
	case tracingExporterStdout:
		if nil != confMap.VerifyOptionIsMissing("Tracing", "OutputPath") {
			globals.config.TracingOutputPath, err = confMap.FetchOptionValueString("Tracing", "OutputPath")
			if nil != err {
				globals.config.TracingOutputPath = ""
			}
		}
	default:
		err = blunder.NewError(blunder.InvalidConfigError, "Tracing.Exporter \"%s\" must be one of none or stdout", globals.config.TracingExporter)
		goto Fail
	}

	// Validated here so a bad [Scrubber] section fails Start() rather than
	// each target's activation
	globals.config.Scrubber, err = scrub.ConfigFromConfMap(confMap)
	if nil != err {
		return
	}

	configJSONified = utils.JSONify(globals.config, true)

	logger.Infof("globals.config:\n%s", configJSONified)

	globals.registry = telemetry.NewRegistry()
	globals.promRegistry = prometheus.NewRegistry()
	globals.promRegistry.MustRegister(globals.registry.Collector())
	globals.scheduler = sched.New(globals.config.Scrubber.NodeRateLimit)
	globals.targets = make([]*targetStruct, 0, globals.config.Targets)

	err = nil
	return

Fail:
	err = blunder.AddError(err, blunder.InvalidConfigError)
	return
}

func uninitializeGlobals() (err error) {
	globals.config = configStruct{}
	globals.confMap = nil
	globals.registry = nil
	globals.promRegistry = nil
	globals.scheduler = nil
	globals.etcdClient = nil
	globals.memberStore = nil
	globals.receiver = nil
	globals.channel = nil
	globals.udpChannel = nil
	globals.udpListener = nil
	globals.etcdWatcher = nil
	globals.targets = nil
	globals.httpServer = nil
	globals.tracerProvider = nil
	globals.traceFile = nil

	err = nil
	return
}
