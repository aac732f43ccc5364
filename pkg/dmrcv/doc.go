// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package dmrcv implements the dm-rcv-basic relay plugin.
//
// Direct messages sent over the mesh to the relay node are otherwise
// invisible to the relay operator. The plugin picks them out of the packet
// stream and posts their text, together with the sender's long name and
// node ID, into a single configured Matrix room:
//
//	[DM] Alice (!abcd1234): hello
//
// # Configuration
//
//	community-plugins:
//	  dm-rcv-basic:
//	    active: true
//	    dm_room: "!dm-room:matrix.org"  # room ID or alias, required
//	    dm_prefix: true                 # "[DM] " prefix, default true
//
// # Delivery
//
// Forwarding is best effort. A failed send is logged with its
// [plugin.SendErrorKind] and dropped; the packet still counts as handled so
// the host does not offer it to other plugins or redeliver it.
package dmrcv
