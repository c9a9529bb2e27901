// Package command defines the graphmesh-cli commands.
//
//	graphmesh-cli write --key user:42 --file ops.json
//	graphmesh-cli snapshot advance --id 7
//	graphmesh-cli offsets tails --coordinator 10.0.0.5:7480 --shards 0,1,2
//	graphmesh-cli offsets applied --store 10.0.0.9:7480 --shards 0,1,2
//	graphmesh-cli node ping 10.0.0.1:7480 10.0.0.9:7480
//	graphmesh-cli node status 10.0.0.1:7480
package command
