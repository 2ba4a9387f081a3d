package protocol

// VersionValue protocol version announced in every message
const VersionValue = "0.8.0"

// Commands carried in the cmd header
const (
	Produce = "produce"
	Consume = "consume"
	// Route sends a message back to its sender, used by RPC replies
	Route = "route"
	// RPC same as produce but server never acks
	RPC = "rpc"

	Declare = "declare"
	Query   = "query"
	Remove  = "remove"
	Empty   = "empty"

	TrackPub = "track_pub"
	TrackSub = "track_sub"
	Tracker  = "tracker"

	Heartbeat = "heartbeat"
)

// Header keys
const (
	HeaderCommand = "cmd"
	HeaderTopic   = "topic"
	HeaderMask    = "topic_mask"
	HeaderTag     = "tag"
	HeaderOffset  = "offset"

	HeaderConsumeGroup     = "consume_group"
	HeaderGroupStartCopy   = "group_start_copy"
	HeaderGroupStartOffset = "group_start_offset"
	HeaderGroupStartMsgID  = "group_start_msgid"
	HeaderGroupStartTime   = "group_start_time"
	HeaderGroupFilter      = "group_filter"
	HeaderGroupMask        = "group_mask"
	HeaderConsumeWindow    = "consume_window"

	HeaderSender = "sender"
	HeaderRecver = "recver"
	HeaderID     = "id"

	HeaderHost     = "host"
	HeaderAck      = "ack"
	HeaderEncoding = "encoding"
	HeaderVersion  = "version"

	HeaderOriginID     = "origin_id"
	HeaderOriginURL    = "origin_url"
	HeaderOriginStatus = "origin_status"

	HeaderToken     = "token"
	HeaderAPIKey    = "apikey"
	HeaderSignature = "signature"

	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderConnection    = "connection"
)

// Topic and group masks
const (
	MaskPause        = 1 << 0
	MaskRPC          = 1 << 1
	MaskExclusive    = 1 << 2
	MaskDeleteOnExit = 1 << 3
)

// Status codes the client reacts to
const (
	StatusOK       = 200
	StatusNotFound = 404
)
