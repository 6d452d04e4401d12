package registry

// Attribute names for resource records.
const (
	AttrStatus           = "status"
	AttrConfiguration    = "configuration"
	AttrStackID          = "stackId"
	AttrConsumerRoleArn  = "consumerRoleArn"
	AttrCreatedAt        = "createdAt"
	AttrLastTransitionAt = "lastTransitionAt"
	AttrLastPollAt       = "lastPollAt"
	AttrPollCursor       = "pollCursor"
)

// Configuration attribute names inside the nested configuration map.
const (
	AttrPollSchedule       = "pollSchedule"
	AttrTargetURL          = "targetUrl"
	AttrSecretArn          = "secretArn"
	AttrTenantRoleArn      = "tenantRoleArn"
	AttrStreamArn          = "streamArn"
	AttrStreamPartitionKey = "streamPartitionKey"
)
