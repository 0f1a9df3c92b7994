// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/rayarc

/*
Package rayarc reads, edits and rebuilds archive containers of the
Rayman game family: Rayman 1 PC file archives (.DAT), OpenSpace CNT
archives (Rayman 2, Rayman 3, Tonic Trouble) and UbiArt IPK bundles.

An archive is modeled as a format-neutral Tree of directories and file
items. Each format is a Driver that parses its byte layout into the tree,
mints entries for new files, encodes and decodes payloads, and repacks a
tree back into container bytes. Unmodified files are streamed from the
source container on demand; imported files wait in a staging arena until
the next commit.

Repack rules (summary):
  - directory table is rebuilt from the directories items actually use;
  - items are written in tree order, which is the byte order of the output;
  - the first payload starts right after the header region;
  - header-first formats (Rayman 1 PC) precompute offsets and verify them;
  - content-first formats (CNT, IPK) reserve the header and patch it last;
  - a write that produced fewer entries than the table fails and never
    writes a header.

Protection rules (summary):
  - ProtectionDrop (default) clears XOR keys and checksums of written files;
  - ProtectionKeep copies originals verbatim and encrypts new imports with
    the configured key.

# Reading

Open a container and read a file:

	a, err := rayarc.Open("SNDD8B.DAT", rayarc.OpenOptions{})
	if err != nil {
	    return err
	}
	defer a.Close()
	for _, fi := range a.List() {
	    fmt.Println(fi.Path(), fi.Size)
	}
	rc, err := a.Open("SNDD8B")
	if err != nil {
	    return err
	}
	defer rc.Close()

# Extracting

	err := rayarc.ExtractAll(ctx, a, "out", rayarc.ExtractOptions{
	    MaxWorkers: 4,
	    Filter: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "World/**"},
	    },
	})

# Editing

	a, err := rayarc.Open("Textures.cnt", rayarc.OpenOptions{})
	if err != nil {
	    return err
	}
	defer a.Close()
	if err := a.Replace("World/Levels/menu.gf", data); err != nil {
	    return err
	}
	_, err = a.CommitFile(ctx, "Textures.cnt", rayarc.CommitOptions{BackupKeep: 1})

# Creating

	a, err := rayarc.Create(rayarc.FormatIPK, rayarc.OpenOptions{
	    IPK: rayarc.IPKOptions{
	        Compress: []pathrules.Rule{
	            {Action: pathrules.ActionInclude, Pattern: "*.isc"},
	        },
	    },
	})
	if err != nil {
	    return err
	}
	defer a.Close()
	_ = a.Add("world/home/home.isc", data)
	_, err = a.CommitFile(ctx, "bundle_pc.ipk", rayarc.CommitOptions{})
*/
package rayarc
