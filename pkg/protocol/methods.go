package protocol

// Method name constants, normative per the wire protocol.
const (
	MethodConnect         = "connect"
	MethodChatSend        = "chat.send"
	MethodChatAbort       = "chat.abort"
	MethodChatInject      = "chat.inject"
	MethodChatHistory     = "chat.history"
	MethodNodeInvoke      = "node.invoke"
	MethodApprovalList    = "approval.list"
	MethodApprovalResolve = "approval.resolve"
	MethodPairingList     = "pairing.list"
	MethodPairingApprove  = "pairing.approve"
	MethodPairingDeny     = "pairing.deny"
)

// Event name constants.
const (
	EventAgent           = "agent"
	EventPresence        = "presence"
	EventApprovalRequest = "approval.requested"
	EventPairingChanged  = "pairing.changed"
	EventVoiceWake       = "voicewake.changed"
	EventExecStarted     = "exec.started"
	EventExecFinished    = "exec.finished"
	EventExecDenied      = "exec.denied"
)

// DefaultMethods returns the canonical method table with params schemas, for
// use with NewMethodRegistry at boot.
func DefaultMethods() []MethodSpec {
	return []MethodSpec{
		{
			Name: MethodConnect,
			ParamsSchema: `{
				"type": "object",
				"required": ["client", "minProtocol", "maxProtocol"],
				"properties": {
					"client": {
						"type": "object",
						"required": ["id", "version"],
						"properties": {
							"id": {"type": "string", "minLength": 1},
							"displayName": {"type": "string"},
							"version": {"type": "string"},
							"mode": {"type": "string"},
							"platform": {"type": "string"}
						}
					},
					"minProtocol": {"type": "integer"},
					"maxProtocol": {"type": "integer"},
					"auth": {
						"type": "object",
						"properties": {
							"token": {"type": "string"},
							"password": {"type": "string"}
						}
					},
					"role": {"type": "string", "enum": ["operator", "node", "channel-plugin"]},
					"scope": {"type": "array", "items": {"type": "string"}},
					"deviceId": {"type": "string"}
				}
			}`,
		},
		{
			Name:         MethodChatSend,
			RequiresAuth: true,
			ParamsSchema: `{
				"type": "object",
				"required": ["message", "idempotencyKey"],
				"properties": {
					"sessionKey": {"type": "string"},
					"target": {
						"type": "object",
						"required": ["channel", "account", "peer"],
						"properties": {
							"channel": {"type": "string"},
							"account": {"type": "string"},
							"peer": {
								"type": "object",
								"required": ["kind", "id"],
								"properties": {
									"kind": {"type": "string"},
									"id": {"type": "string"}
								}
							},
							"thread": {"type": "string"},
							"topicId": {"type": "string"}
						}
					},
					"message": {"type": "string"},
					"idempotencyKey": {"type": "string", "minLength": 1},
					"repoContext": {"type": "object"},
					"thinking": {}
				}
			}`,
		},
		{
			Name:         MethodChatAbort,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["runId"],"properties":{"runId":{"type":"string"}}}`,
		},
		{
			Name:         MethodChatInject,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["sessionKey","text"],"properties":{"sessionKey":{"type":"string"},"text":{"type":"string"}}}`,
		},
		{
			Name:         MethodChatHistory,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["sessionKey"],"properties":{"sessionKey":{"type":"string"},"limit":{"type":"integer","minimum":1}}}`,
		},
		{
			Name:         MethodNodeInvoke,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["nodeId","command"],"properties":{"nodeId":{"type":"string"},"command":{"type":"string"},"args":{"type":"object"}}}`,
		},
		{
			Name:         MethodApprovalList,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object"}`,
		},
		{
			Name:         MethodApprovalResolve,
			RequiresAuth: true,
			ParamsSchema: `{
				"type": "object",
				"required": ["approvalId", "decision"],
				"properties": {
					"approvalId": {"type": "string"},
					"decision": {"type": "string", "enum": ["allow-once", "allow-and-add", "deny"]}
				}
			}`,
		},
		{
			Name:         MethodPairingList,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["channel"],"properties":{"channel":{"type":"string"}}}`,
		},
		{
			Name:         MethodPairingApprove,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["channel","sender"],"properties":{"channel":{"type":"string"},"sender":{"type":"string"}}}`,
		},
		{
			Name:         MethodPairingDeny,
			RequiresAuth: true,
			ParamsSchema: `{"type":"object","required":["channel","sender"],"properties":{"channel":{"type":"string"},"sender":{"type":"string"}}}`,
		},
	}
}
