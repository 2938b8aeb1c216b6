package model

import "fmt"

// ServiceType classifies a controller within its participant.
type ServiceType int

const (
	ServiceUndefinedType ServiceType = iota
	ServiceLink
	ServiceController
	ServiceInternalController
	ServiceSimulatedController
)

func (t ServiceType) String() string {
	switch t {
	case ServiceLink:
		return "Link"
	case ServiceController:
		return "Controller"
	case ServiceInternalController:
		return "InternalController"
	case ServiceSimulatedController:
		return "SimulatedController"
	default:
		return "Undefined"
	}
}

// NetworkType names the kind of virtual wire a controller sits on.
type NetworkType int

const (
	NetworkUndefined NetworkType = iota
	NetworkCAN
	NetworkEthernet
	NetworkFlexRay
	NetworkLIN
	NetworkData
	NetworkRpc
)

func (t NetworkType) String() string {
	switch t {
	case NetworkCAN:
		return "CAN"
	case NetworkEthernet:
		return "Ethernet"
	case NetworkFlexRay:
		return "FlexRay"
	case NetworkLIN:
		return "LIN"
	case NetworkData:
		return "Data"
	case NetworkRpc:
		return "Rpc"
	default:
		return "Undefined"
	}
}

// ControllerType is the closed set of controller kinds the runtime
// routes; dispatch is by this tag, never by free-form strings.
type ControllerType int

const (
	ControllerUndefined ControllerType = iota
	ControllerCan
	ControllerEthernet
	ControllerFlexRay
	ControllerLin
	ControllerDataPublisher
	ControllerDataSubscriber
	ControllerDataSubscriberInternal
	ControllerRpcClient
	ControllerRpcServer
	ControllerRpcServerInternal
	ControllerLifecycle
	ControllerTimeSync
	ControllerSystemMonitor
	ControllerSystemController
	ControllerServiceDiscovery
	ControllerLogMsgSender
	ControllerLogMsgReceiver
)

// Well-known supplemental-data keys attached to service descriptors.
const (
	SupplementalKeyNetworkType     = "ib_networkType"
	SupplementalKeyServiceType     = "ib_serviceType"
	SupplementalKeyControllerType  = "ib_controllerType"
	SupplementalKeyParentServiceID = "ib_parentServiceId"
)

// ServiceDescriptor identifies one controller in the domain. Equality
// is the full 4-tuple (participant, network, service name, service
// id); services are uniquely identified by (network name, service id)
// within a participant.
type ServiceDescriptor struct {
	ParticipantName string
	ServiceName     string
	ServiceType     ServiceType
	NetworkName     string
	NetworkType     NetworkType
	ServiceID       uint64
	Supplemental    map[string]string
}

// ServiceKey is the (network name, service id) pair that must be
// unique within a participant.
type ServiceKey struct {
	NetworkName string
	ServiceID   uint64
}

func (d ServiceDescriptor) Key() ServiceKey {
	return ServiceKey{NetworkName: d.NetworkName, ServiceID: d.ServiceID}
}

// Equal compares the full identifying 4-tuple.
func (d ServiceDescriptor) Equal(other ServiceDescriptor) bool {
	return d.ParticipantName == other.ParticipantName &&
		d.NetworkName == other.NetworkName &&
		d.ServiceName == other.ServiceName &&
		d.ServiceID == other.ServiceID
}

func (d ServiceDescriptor) String() string {
	return fmt.Sprintf("%s/%s/%s#%d", d.ParticipantName, d.NetworkName, d.ServiceName, d.ServiceID)
}

// ControllerTypeHint reads the well-known supplemental key back out as
// a ControllerType, defaulting to ControllerUndefined.
func (d ServiceDescriptor) ControllerTypeHint() (ControllerType, bool) {
	if d.Supplemental == nil {
		return ControllerUndefined, false
	}
	raw, ok := d.Supplemental[SupplementalKeyControllerType]
	if !ok {
		return ControllerUndefined, false
	}
	ct, ok := controllerTypeNames[raw]
	return ct, ok
}

var controllerTypeNames = map[string]ControllerType{
	"can":                    ControllerCan,
	"ethernet":               ControllerEthernet,
	"flexray":                ControllerFlexRay,
	"lin":                    ControllerLin,
	"dataPublisher":          ControllerDataPublisher,
	"dataSubscriber":         ControllerDataSubscriber,
	"dataSubscriberInternal": ControllerDataSubscriberInternal,
	"rpcClient":              ControllerRpcClient,
	"rpcServer":              ControllerRpcServer,
	"rpcServerInternal":      ControllerRpcServerInternal,
	"lifecycle":              ControllerLifecycle,
	"timeSync":               ControllerTimeSync,
	"systemMonitor":          ControllerSystemMonitor,
	"systemController":       ControllerSystemController,
	"serviceDiscovery":       ControllerServiceDiscovery,
	"logMsgSender":           ControllerLogMsgSender,
	"logMsgReceiver":         ControllerLogMsgReceiver,
}
